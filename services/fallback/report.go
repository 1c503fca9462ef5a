package fallback

import (
	"fmt"
	"strings"
)

// Verdict summarizes why a run ended the way it did.
type Verdict string

const (
	VerdictSucceeded Verdict = "succeeded"

	// VerdictRateLimited: every candidate ran out of transient retries; retry later
	VerdictRateLimited Verdict = "rate_limited"

	// VerdictMisconfigured: no configured candidate is offered to this credential
	VerdictMisconfigured Verdict = "misconfigured"

	// VerdictRejected: the provider refused the request itself
	VerdictRejected Verdict = "rejected"

	// VerdictMixed: candidates failed for different non-fatal reasons
	VerdictMixed Verdict = "mixed"

	// VerdictIncomplete: the run was abandoned before any attempt finished
	VerdictIncomplete Verdict = "incomplete"
)

// CandidateSummary is the per-candidate line of a report.
type CandidateSummary struct {
	Candidate string         `json:"candidate"`
	Attempts  int            `json:"attempts"`
	Final     Classification `json:"final"`
	LastError string         `json:"last_error,omitempty"`
}

// Report is the caller-facing view of a Result.
type Report struct {
	Outcome    Outcome            `json:"outcome"`
	Verdict    Verdict            `json:"verdict"`
	Candidate  string             `json:"candidate,omitempty"`
	Text       string             `json:"text,omitempty"`
	Attempts   int                `json:"attempts"`
	Candidates []CandidateSummary `json:"candidates"`
}

// MarshalText renders the classification by name.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Report builds the structured summary of the result.
func (r *Result) Report() *Report {
	report := &Report{
		Outcome:    r.Outcome,
		Candidate:  r.Candidate,
		Text:       r.Text,
		Attempts:   len(r.Attempts),
		Candidates: summarize(r.Attempts),
	}

	if r.Outcome == OutcomeSucceeded {
		report.Verdict = VerdictSucceeded
	} else {
		report.Verdict = verdict(report.Candidates)
	}

	return report
}

// summarize groups consecutive attempts by candidate, preserving order.
func summarize(attempts []AttemptRecord) []CandidateSummary {
	summaries := make([]CandidateSummary, 0)
	for _, a := range attempts {
		n := len(summaries)
		if n == 0 || summaries[n-1].Candidate != a.Candidate {
			summaries = append(summaries, CandidateSummary{Candidate: a.Candidate})
			n++
		}
		s := &summaries[n-1]
		s.Attempts++
		s.Final = a.Classification
		s.LastError = ""
		if a.Err != nil {
			s.LastError = a.Err.Error()
		}
	}
	return summaries
}

func verdict(candidates []CandidateSummary) Verdict {
	if len(candidates) == 0 {
		return VerdictIncomplete
	}

	transient, unavailable := 0, 0
	for _, c := range candidates {
		switch c.Final {
		case Fatal:
			return VerdictRejected
		case Transient:
			transient++
		case Unavailable:
			unavailable++
		}
	}

	switch {
	case transient == len(candidates):
		return VerdictRateLimited
	case unavailable == len(candidates):
		return VerdictMisconfigured
	default:
		return VerdictMixed
	}
}

// Summary renders the report on one line for logs and operators.
func (r *Report) Summary() string {
	if r.Outcome == OutcomeSucceeded {
		return fmt.Sprintf("succeeded on %s after %d attempt(s)", r.Candidate, r.Attempts)
	}

	parts := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		parts = append(parts, fmt.Sprintf("%s %s x%d", c.Candidate, c.Final, c.Attempts))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("exhausted (%s): no attempts made", r.Verdict)
	}
	return fmt.Sprintf("exhausted (%s): %s", r.Verdict, strings.Join(parts, "; "))
}
