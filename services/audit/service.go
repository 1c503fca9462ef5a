package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/vision-gateway/models"
	"github.com/upb/vision-gateway/repositories"
	"go.uber.org/zap"
)

// AuditService records analysis run summaries asynchronously
type AuditService struct {
	runRepo     repositories.AnalysisRunRepository
	logger      *zap.Logger
	eventChan   chan *models.AnalysisRun
	workerCount int
	bufferSize  int
	writeTimout time.Duration
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize   int           // Size of the run buffer channel
	WorkerCount  int           // Number of concurrent writers
	WriteTimeout time.Duration // Per-insert deadline
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(runRepo repositories.AnalysisRunRepository, logger *zap.Logger, config Config) *AuditService {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &AuditService{
		runRepo:     runRepo,
		logger:      logger,
		eventChan:   make(chan *models.AnalysisRun, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		writeTimout: config.WriteTimeout,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting runs and waits for queued ones to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_runs", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogRun queues a run summary without blocking. A full buffer drops the run.
func (s *AuditService) LogRun(run *models.AnalysisRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- run:
		return nil
	default:
		s.logger.Warn("audit buffer full, dropping run",
			zap.String("run_id", run.ID.String()),
			zap.String("request_id", run.RequestID))
		return fmt.Errorf("audit buffer full")
	}
}

// worker writes runs from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for run := range s.eventChan {
		if err := s.processRun(run); err != nil {
			s.logger.Error("failed to record analysis run",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("run_id", run.ID.String()),
				zap.String("request_id", run.RequestID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processRun(run *models.AnalysisRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimout)
	defer cancel()

	return s.runRepo.Insert(ctx, run)
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:  s.bufferSize,
		PendingRuns: len(s.eventChan),
		WorkerCount: s.workerCount,
		Started:     s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize  int
	PendingRuns int
	WorkerCount int
	Started     bool
}
