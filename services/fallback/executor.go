package fallback

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyResponse marks a provider reply that carried no text.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// CandidateResult is what the executor reports for one candidate.
type CandidateResult struct {
	Candidate string

	// Text is set when the candidate succeeded
	Text string

	// Classification of the last failure; Unclassified on success
	Classification Classification

	// Attempts made against this candidate, in order
	Attempts []AttemptRecord

	// Err is set when the run was cancelled mid-candidate
	Err error
}

// Executor performs up to maxAttempts serialized attempts on a single candidate.
type Executor struct {
	invoker     Invoker
	maxAttempts int
	backoff     Backoff
	sleep       sleepFunc
	metrics     Metrics
	logger      *zap.Logger
}

// NewExecutor creates an executor. maxAttempts below 1 is treated as 1.
func NewExecutor(invoker Invoker, maxAttempts int, backoff Backoff, logger *zap.Logger) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		invoker:     invoker,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sleep:       sleepContext,
		logger:      logger,
	}
}

// Execute runs the retry loop for one candidate. The first attempt fires
// immediately; only Transient failures are retried.
func (e *Executor) Execute(ctx context.Context, candidate Candidate, payload Payload) CandidateResult {
	result := CandidateResult{
		Candidate: candidate.ID,
		Attempts:  make([]AttemptRecord, 0, e.maxAttempts),
	}

	var wait time.Duration
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, wait); err != nil {
				result.Err = err
				return result
			}
		}
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		start := time.Now()
		text, err := e.invoker.Invoke(ctx, candidate.ID, payload)
		record := AttemptRecord{
			Candidate: candidate.ID,
			Attempt:   attempt,
			Wait:      wait,
			Latency:   time.Since(start),
		}

		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyResponse
		}

		if err == nil {
			record.Text = text
			e.record(&result, record)
			result.Text = text
			result.Classification = Unclassified

			e.logger.Debug("attempt succeeded",
				zap.String("candidate", candidate.ID),
				zap.Int("attempt", attempt),
				zap.Duration("latency", record.Latency))
			return result
		}

		record.Err = err
		record.Classification = Classify(err)
		e.record(&result, record)
		result.Classification = record.Classification

		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Err = ctxErr
			return result
		}

		if record.Classification != Transient {
			e.logger.Debug("attempt failed, not retrying candidate",
				zap.String("candidate", candidate.ID),
				zap.Int("attempt", attempt),
				zap.Stringer("classification", record.Classification),
				zap.Error(err))
			return result
		}

		if attempt == e.maxAttempts {
			e.logger.Warn("retry budget exhausted for candidate",
				zap.String("candidate", candidate.ID),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return result
		}

		wait = e.backoff.Delay(attempt+1, wait, retryHint(err))
		e.logger.Warn("transient provider failure, backing off",
			zap.String("candidate", candidate.ID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return result
}

func (e *Executor) record(result *CandidateResult, record AttemptRecord) {
	result.Attempts = append(result.Attempts, record)
	if e.metrics != nil {
		e.metrics.ObserveAttempt(record)
	}
}
