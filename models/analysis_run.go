package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents how an analysis run ended
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusExhausted RunStatus = "exhausted" // Every candidate model failed
	RunStatusFailed    RunStatus = "failed"    // Rejected before or outside orchestration
	RunStatusCancelled RunStatus = "cancelled" // Caller went away mid-run
)

// AnalysisRun is the stored summary of one orchestrated analysis call.
// Neither the prompt, the images nor the reply text are kept.
type AnalysisRun struct {
	ID           uuid.UUID `json:"id" db:"id"`
	RequestID    string    `json:"request_id" db:"request_id"`
	Subject      string    `json:"subject,omitempty" db:"subject"` // Authenticated caller, if any
	Status       RunStatus `json:"status" db:"status"`
	Candidate    *string   `json:"candidate,omitempty" db:"candidate"` // Model that answered
	AttemptCount int       `json:"attempt_count" db:"attempt_count"`
	Verdict      string    `json:"verdict,omitempty" db:"verdict"`
	ImageCount   int       `json:"image_count" db:"image_count"`
	PromptChars  int       `json:"prompt_chars" db:"prompt_chars"`
	LatencyMs    int       `json:"latency_ms" db:"latency_ms"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AnalysisRun model
func (AnalysisRun) TableName() string {
	return "analysis_runs"
}

// NewAnalysisRun creates a new AnalysisRun instance
func NewAnalysisRun(requestID, subject string, imageCount, promptChars int) *AnalysisRun {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &AnalysisRun{
		ID:          uuid.New(),
		RequestID:   requestID,
		Subject:     subject,
		Status:      RunStatusFailed,
		ImageCount:  imageCount,
		PromptChars: promptChars,
		CreatedAt:   time.Now().UTC(),
	}
}

// MarkAsSucceeded records the model that answered
func (r *AnalysisRun) MarkAsSucceeded(candidate string, attempts, latencyMs int) {
	r.Status = RunStatusSucceeded
	r.Candidate = &candidate
	r.AttemptCount = attempts
	r.Verdict = "succeeded"
	r.LatencyMs = latencyMs
	r.ErrorMessage = nil
}

// MarkAsExhausted records a run where every candidate failed
func (r *AnalysisRun) MarkAsExhausted(verdict string, attempts, latencyMs int, summary string) {
	r.Status = RunStatusExhausted
	r.AttemptCount = attempts
	r.Verdict = verdict
	r.LatencyMs = latencyMs
	r.ErrorMessage = &summary
}

// MarkAsFailed records a run that ended for any other reason
func (r *AnalysisRun) MarkAsFailed(status RunStatus, attempts, latencyMs int, message string) {
	r.Status = status
	r.AttemptCount = attempts
	r.LatencyMs = latencyMs
	r.ErrorMessage = &message
}
