package fallback

import (
	"context"
	"errors"
	"time"
)

// ErrConfiguration is returned before any provider call when the priority
// list holds no usable model identifiers.
var ErrConfiguration = errors.New("fallback: priority list is empty")

// Candidate is one model eligible to serve a request. Lower Rank is tried first.
type Candidate struct {
	ID   string
	Rank int
}

// Attachment is a binary input already prepared for the provider.
type Attachment struct {
	MimeType string
	Data     []byte
}

// GenerationOptions controls provider-side generation.
type GenerationOptions struct {
	// Temperature controls randomness; 0 is the most deterministic setting.
	Temperature float64

	// Extra holds provider-specific options passed through verbatim.
	Extra map[string]any
}

// Payload is the request replayed unchanged on every attempt of a run.
type Payload struct {
	Prompt      string
	Attachments []Attachment
	Options     GenerationOptions
}

// clone copies the slice and map headers so callers mutating their own
// values after Run starts cannot change what later attempts send.
func (p Payload) clone() Payload {
	out := Payload{
		Prompt:  p.Prompt,
		Options: GenerationOptions{Temperature: p.Options.Temperature},
	}
	if len(p.Attachments) > 0 {
		out.Attachments = make([]Attachment, len(p.Attachments))
		copy(out.Attachments, p.Attachments)
	}
	if len(p.Options.Extra) > 0 {
		out.Options.Extra = make(map[string]any, len(p.Options.Extra))
		for k, v := range p.Options.Extra {
			out.Options.Extra[k] = v
		}
	}
	return out
}

// Invoker performs one inference call against one candidate. It must be safe
// to call repeatedly with the same payload.
type Invoker interface {
	Invoke(ctx context.Context, candidateID string, payload Payload) (string, error)
}

// ModelLister reports the models currently enabled for the credential in use.
type ModelLister interface {
	ListEnabledModels(ctx context.Context) ([]string, error)
}

// Metrics receives attempt and run outcomes. Implementations must be safe
// for concurrent use.
type Metrics interface {
	ObserveAttempt(record AttemptRecord)
	ObserveOutcome(report *Report)
}

// AttemptRecord is one entry in the append-only attempt log.
type AttemptRecord struct {
	// Candidate is the model identifier the attempt was sent to
	Candidate string

	// Attempt is the 1-based index of the attempt on this candidate
	Attempt int

	// Wait is the backoff slept before this attempt (0 for the first one)
	Wait time.Duration

	// Text is the response text when the attempt succeeded
	Text string

	// Classification is set for failed attempts only
	Classification Classification

	// Err is the raw provider failure
	Err error

	// Latency of the provider call
	Latency time.Duration
}

// Succeeded reports whether the attempt produced response text.
func (r AttemptRecord) Succeeded() bool {
	return r.Err == nil
}

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeExhausted Outcome = "exhausted"
)

// Result is the terminal value of one Run. It is owned by the caller.
type Result struct {
	Outcome   Outcome
	Text      string
	Candidate string
	Attempts  []AttemptRecord
}

// Succeeded reports whether a candidate produced a response.
func (r *Result) Succeeded() bool {
	return r != nil && r.Outcome == OutcomeSucceeded
}
