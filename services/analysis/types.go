package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/upb/vision-gateway/models"
	"github.com/upb/vision-gateway/services/fallback"
)

// AnalyzeRequest is one image + prompt analysis call
type AnalyzeRequest struct {
	// Request tracking
	RequestID string `json:"request_id,omitempty" validate:"omitempty,max=128"`
	Subject   string `json:"-"`

	// Prompt text sent with every attempt
	Prompt string `json:"prompt" validate:"required,max=32000"`

	// Images in the order they are attached
	Images []ImageInput `json:"-" validate:"dive"`

	// Temperature overrides the configured default when set
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`

	// Models overrides the configured priority list when non-empty
	Models []string `json:"models,omitempty" validate:"max=16,dive,required,max=128"`

	// Options are provider-specific generation options passed through verbatim
	Options map[string]any `json:"options,omitempty"`
}

// ImageInput is an uploaded image before preparation
type ImageInput struct {
	Filename string `validate:"max=255"`
	Data     []byte `validate:"required"`
}

// AnalyzeResponse is a successful analysis
type AnalyzeResponse struct {
	RunID     uuid.UUID        `json:"run_id"`
	RequestID string           `json:"request_id"`
	Text      string           `json:"text"`
	Model     string           `json:"model"`
	Attempts  int              `json:"attempts"`
	LatencyMs int              `json:"latency_ms"`
	Report    *fallback.Report `json:"report"`
}

// ModelsResponse describes which models a run would try
type ModelsResponse struct {
	Priority     []string `json:"priority"`
	Enabled      []string `json:"enabled,omitempty"`
	Candidates   []string `json:"candidates"`
	ListingError string   `json:"listing_error,omitempty"`
}

// Runner executes one orchestration over a priority list
type Runner interface {
	RunWithPriority(ctx context.Context, priority []string, payload fallback.Payload) (*fallback.Result, error)
}

// Catalog canonicalizes model identifiers and reports enabled models
type Catalog interface {
	QualifyAll(ids []string) []string
	ListEnabledModels(ctx context.Context) ([]string, error)
}

// RunRecorder stores run summaries
type RunRecorder interface {
	LogRun(run *models.AnalysisRun) error
}

// Config holds analysis settings
type Config struct {
	Priority    []string      // Default priority list
	MaxImages   int           // Images accepted per request
	Temperature float64       // Default temperature
	RetryAfter  time.Duration // Hint returned when every candidate is rate limited
}
