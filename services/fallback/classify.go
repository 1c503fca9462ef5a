package fallback

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// Classification labels a failed attempt for the retry and fallback decisions.
type Classification int

const (
	// Unclassified is the zero value, carried by successful attempts.
	Unclassified Classification = iota

	// Transient failures are worth retrying on the same candidate after a delay.
	Transient

	// Unavailable means the candidate can never serve this credential; move on.
	Unavailable

	// Fatal failures are not candidate-specific; abort the whole run.
	Fatal
)

// String returns the lowercase name of the classification.
func (c Classification) String() string {
	switch c {
	case Transient:
		return "transient"
	case Unavailable:
		return "unavailable"
	case Fatal:
		return "fatal"
	default:
		return "none"
	}
}

// statusCoder is implemented by provider errors carrying an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// codedError is implemented by provider errors carrying a provider error code.
type codedError interface {
	ErrorCode() string
}

// retryHinter is implemented by provider errors that say when to come back.
type retryHinter interface {
	RetryAfter() time.Duration
}

var transientCodes = map[string]bool{
	"resource_exhausted":  true,
	"unavailable":         true,
	"rate_limit_exceeded": true,
	"rate_limit_error":    true,
	"insufficient_quota":  true,
	"server_error":        true,
	"overloaded_error":    true,
	"deadline_exceeded":   true,
	"internal":            true,
}

var unavailableCodes = map[string]bool{
	"not_found":          true,
	"model_not_found":    true,
	"provider_not_found": true,
}

var transientPhrases = []string{
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
	"rate limit",
	"ratelimit",
	"quota",
	"overloaded",
	"server is busy",
	"try again later",
}

var unavailablePhrases = []string{
	"is not found",
	"not found for api version",
	"not supported for generatecontent",
	"does not exist",
	"model_not_found",
	"no such model",
}

// Classify maps a raw provider failure to a Classification. It is the only
// place where provider error vocabulary is interpreted.
func Classify(err error) Classification {
	if err == nil {
		return Unclassified
	}

	if errors.Is(err, context.Canceled) {
		return Fatal
	}

	msg := strings.ToLower(err.Error())

	var coded codedError
	if errors.As(err, &coded) {
		code := strings.ToLower(coded.ErrorCode())
		switch {
		case transientCodes[code]:
			return Transient
		case unavailableCodes[code]:
			return Unavailable
		case code == "permission_denied" && strings.Contains(msg, "model"):
			return Unavailable
		}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch status := sc.HTTPStatus(); {
		case status == http.StatusTooManyRequests,
			status == http.StatusInternalServerError,
			status == http.StatusBadGateway,
			status == http.StatusServiceUnavailable,
			status == http.StatusGatewayTimeout:
			return Transient
		case status == http.StatusNotFound:
			return Unavailable
		case status == http.StatusForbidden && strings.Contains(msg, "model"):
			return Unavailable
		case status >= 400:
			// A definite answer from the provider outranks loose message matching.
			return classifyMessage(msg, Fatal)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	return classifyMessage(msg, Fatal)
}

func classifyMessage(msg string, fallback Classification) Classification {
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return Transient
		}
	}
	for _, phrase := range unavailablePhrases {
		if strings.Contains(msg, phrase) {
			return Unavailable
		}
	}
	return fallback
}

// retryHint extracts a provider-suggested wait, or 0.
func retryHint(err error) time.Duration {
	var hinter retryHinter
	if errors.As(err, &hinter) {
		if d := hinter.RetryAfter(); d > 0 {
			return d
		}
	}
	return 0
}
