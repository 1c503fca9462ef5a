package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/vision-gateway/internal/media"
	"github.com/upb/vision-gateway/models"
	"github.com/upb/vision-gateway/services"
	"github.com/upb/vision-gateway/services/fallback"
	"github.com/upb/vision-gateway/utils"
)

// AnalysisService validates analysis requests, prepares their images and
// runs them through the fallback orchestrator.
type AnalysisService struct {
	runner   Runner
	catalog  Catalog
	preparer *media.Preparer
	recorder RunRecorder
	config   Config
	logger   *zap.Logger
}

// NewAnalysisService creates a new analysis service. recorder may be nil.
func NewAnalysisService(
	runner Runner,
	catalog Catalog,
	preparer *media.Preparer,
	recorder RunRecorder,
	config Config,
	logger *zap.Logger,
) *AnalysisService {
	if config.MaxImages <= 0 {
		config.MaxImages = 8
	}
	config.Priority = catalog.QualifyAll(config.Priority)

	return &AnalysisService{
		runner:   runner,
		catalog:  catalog,
		preparer: preparer,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// Analyze runs one request. Exhaustion is returned as an exhausted
// DomainError whose details carry the report.
func (s *AnalysisService) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	start := time.Now()

	req.Prompt = strings.TrimSpace(req.Prompt)
	run := models.NewAnalysisRun(req.RequestID, req.Subject, len(req.Images), len([]rune(req.Prompt)))

	logger := s.logger.With(
		zap.String("run_id", run.ID.String()),
		zap.String("request_id", run.RequestID))

	logger.Info("starting analysis",
		zap.Int("images", len(req.Images)),
		zap.Int("prompt_chars", run.PromptChars),
		zap.Strings("models", req.Models))

	// Step 1: validate and build the payload replayed on every attempt
	payload, priority, err := s.buildPayload(req)
	if err != nil {
		logger.Info("analysis request rejected", zap.Error(err))
		run.MarkAsFailed(models.RunStatusFailed, 0, elapsedMs(start), err.Error())
		s.record(run)
		return nil, err
	}

	// Step 2: orchestrate
	result, err := s.runner.RunWithPriority(ctx, priority, payload)
	latencyMs := elapsedMs(start)

	if err != nil {
		return nil, s.handleRunError(logger, run, result, latencyMs, err)
	}

	report := result.Report()
	report.Text = ""

	// Step 3: exhaustion
	if !result.Succeeded() {
		summary := report.Summary()
		run.MarkAsExhausted(string(report.Verdict), report.Attempts, latencyMs, summary)
		s.record(run)

		logger.Warn("analysis exhausted",
			zap.String("verdict", string(report.Verdict)),
			zap.Int("attempts", report.Attempts),
			zap.Int("latency_ms", latencyMs))

		domainErr := services.NewDomainError(services.ErrorTypeExhausted, summary, nil).
			WithDetail("run_id", run.ID.String()).
			WithDetail("verdict", string(report.Verdict)).
			WithDetail("report", report)
		if report.Verdict == fallback.VerdictRateLimited && s.config.RetryAfter > 0 {
			domainErr.WithDetail("retry_after_seconds", int(s.config.RetryAfter.Seconds()))
		}
		return nil, domainErr
	}

	run.MarkAsSucceeded(result.Candidate, report.Attempts, latencyMs)
	s.record(run)

	logger.Info("analysis completed",
		zap.String("model", result.Candidate),
		zap.Int("attempts", report.Attempts),
		zap.Int("latency_ms", latencyMs))

	return &AnalyzeResponse{
		RunID:     run.ID,
		RequestID: run.RequestID,
		Text:      result.Text,
		Model:     result.Candidate,
		Attempts:  report.Attempts,
		LatencyMs: latencyMs,
		Report:    report,
	}, nil
}

// ListModels reports the default priority list, the enabled set and the
// candidates a run would currently try.
func (s *AnalysisService) ListModels(ctx context.Context) (*ModelsResponse, error) {
	resp := &ModelsResponse{Priority: s.config.Priority}

	enabled, err := s.catalog.ListEnabledModels(ctx)
	listed := err == nil
	if err != nil {
		s.logger.Warn("model listing failed", zap.Error(err))
		resp.ListingError = err.Error()
	} else {
		resp.Enabled = enabled
	}

	candidates, err := fallback.SelectCandidates(s.config.Priority, enabled, listed)
	if err != nil {
		return nil, services.WrapError(services.ErrorTypeConfiguration, services.ErrNoCandidates.Message, err)
	}

	resp.Candidates = make([]string, len(candidates))
	for i, c := range candidates {
		resp.Candidates[i] = c.ID
	}
	return resp, nil
}

func (s *AnalysisService) buildPayload(req *AnalyzeRequest) (fallback.Payload, []string, error) {
	if req.Prompt == "" {
		return fallback.Payload{}, nil, services.ErrEmptyPrompt
	}
	if len(req.Images) > s.config.MaxImages {
		return fallback.Payload{}, nil, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("too many images: at most %d allowed", s.config.MaxImages), nil).
			WithDetail("max_images", s.config.MaxImages)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return fallback.Payload{}, nil, services.ErrInvalidTemperature
	}
	if err := utils.ValidateStruct(req); err != nil {
		return fallback.Payload{}, nil, services.NewDomainError(services.ErrorTypeValidation, "invalid analyze request", err).
			WithDetail("fields", utils.GetValidationFields(err))
	}

	attachments := make([]fallback.Attachment, 0, len(req.Images))
	for i, in := range req.Images {
		img, err := s.preparer.Prepare(in.Data)
		if err != nil {
			return fallback.Payload{}, nil, imageError(i, in.Filename, err)
		}
		if img.Resized {
			s.logger.Debug("image downscaled",
				zap.String("filename", in.Filename),
				zap.Int("original_bytes", len(in.Data)),
				zap.Int("bytes", len(img.Data)),
				zap.Int("width", img.Width),
				zap.Int("height", img.Height))
		}
		attachments = append(attachments, fallback.Attachment{MimeType: img.MimeType, Data: img.Data})
	}

	temperature := s.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	priority := s.config.Priority
	if len(req.Models) > 0 {
		priority = s.catalog.QualifyAll(req.Models)
	}

	return fallback.Payload{
		Prompt:      req.Prompt,
		Attachments: attachments,
		Options: fallback.GenerationOptions{
			Temperature: temperature,
			Extra:       req.Options,
		},
	}, priority, nil
}

// handleRunError maps the two orchestrator errors: an empty priority list and
// an abandoned run.
func (s *AnalysisService) handleRunError(logger *zap.Logger, run *models.AnalysisRun, result *fallback.Result, latencyMs int, err error) error {
	attempts := 0
	if result != nil {
		attempts = len(result.Attempts)
	}

	switch {
	case errors.Is(err, fallback.ErrConfiguration):
		logger.Error("no candidate models to try", zap.Error(err))
		run.MarkAsFailed(models.RunStatusFailed, 0, latencyMs, err.Error())
		s.record(run)
		return services.WrapError(services.ErrorTypeConfiguration, services.ErrNoCandidates.Message, err)

	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("analysis deadline exceeded", zap.Int("attempts", attempts))
		run.MarkAsFailed(models.RunStatusCancelled, attempts, latencyMs, err.Error())
		s.record(run)
		return services.NewDomainError(services.ErrorTypeTimeout, services.ErrRunTimedOut.Message, err).
			WithDetail("run_id", run.ID.String()).
			WithDetail("attempts", attempts)

	case errors.Is(err, context.Canceled):
		logger.Info("analysis cancelled by caller", zap.Int("attempts", attempts))
		run.MarkAsFailed(models.RunStatusCancelled, attempts, latencyMs, err.Error())
		s.record(run)
		return services.WrapInternal("analysis cancelled", err)

	default:
		logger.Error("analysis failed", zap.Error(err))
		run.MarkAsFailed(models.RunStatusFailed, attempts, latencyMs, err.Error())
		s.record(run)
		return services.WrapInternal("analysis failed", err)
	}
}

func (s *AnalysisService) record(run *models.AnalysisRun) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.LogRun(run); err != nil {
		s.logger.Warn("failed to record analysis run",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	}
}

func imageError(index int, filename string, err error) error {
	name := filename
	if name == "" {
		name = fmt.Sprintf("image %d", index+1)
	}

	base := services.ErrInvalidInput
	switch {
	case errors.Is(err, media.ErrUnsupported):
		base = services.ErrUnsupportedImage
	case errors.Is(err, media.ErrTooLarge):
		base = services.ErrImageTooLarge
	}

	return services.NewDomainError(services.ErrorTypeValidation, fmt.Sprintf("%s: %s", name, base.Message), err).
		WithDetail("image", name)
}

func elapsedMs(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}
