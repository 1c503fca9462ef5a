package fallback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Classification
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: Unclassified,
		},
		{
			name:     "gemini resource exhausted",
			err:      rateLimited(),
			expected: Transient,
		},
		{
			name:     "bare 429 status",
			err:      &providerErr{status: 429, msg: "slow down"},
			expected: Transient,
		},
		{
			name:     "service unavailable",
			err:      &providerErr{status: 503, code: "UNAVAILABLE", msg: "The model is overloaded."},
			expected: Transient,
		},
		{
			name:     "openai rate limit code",
			err:      &providerErr{status: 429, code: "rate_limit_exceeded", msg: "Rate limit reached"},
			expected: Transient,
		},
		{
			name:     "internal server error",
			err:      &providerErr{status: 500, code: "INTERNAL", msg: "An internal error has occurred."},
			expected: Transient,
		},
		{
			name:     "deadline exceeded code without status",
			err:      &providerErr{code: "DEADLINE_EXCEEDED", msg: "Deadline expired before operation could complete."},
			expected: Transient,
		},
		{
			name:     "rate_limit_error code on 400",
			err:      &providerErr{status: 400, code: "rate_limit_error", msg: "slow down"},
			expected: Transient,
		},
		{
			name:     "model not found",
			err:      notFound(),
			expected: Unavailable,
		},
		{
			name:     "openai model_not_found code on 400",
			err:      &providerErr{status: 400, code: "model_not_found", msg: "The model `gpt-9` does not exist"},
			expected: Unavailable,
		},
		{
			name:     "permission denied for model",
			err:      &providerErr{status: 403, code: "PERMISSION_DENIED", msg: "Permission denied on model tunedModels/x"},
			expected: Unavailable,
		},
		{
			name:     "permission denied for key",
			err:      &providerErr{status: 403, code: "PERMISSION_DENIED", msg: "Method doesn't allow unregistered callers"},
			expected: Fatal,
		},
		{
			name:     "invalid argument",
			err:      badRequest(),
			expected: Fatal,
		},
		{
			name:     "unauthorized",
			err:      &providerErr{status: 401, code: "invalid_api_key", msg: "Incorrect API key provided"},
			expected: Fatal,
		},
		{
			name:     "plain too many requests message",
			err:      errors.New("429 Too Many Requests"),
			expected: Transient,
		},
		{
			name:     "wrapped quota message",
			err:      fmt.Errorf("generate: %w", errors.New("quota exceeded for metric")),
			expected: Transient,
		},
		{
			name:     "plain not found message",
			err:      errors.New("models/gemini-pro-vision is not found"),
			expected: Unavailable,
		},
		{
			name:     "network timeout",
			err:      &net.OpError{Op: "read", Net: "tcp", Err: timeoutErr{}},
			expected: Transient,
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp 127.0.0.1:443: connect: connection refused"),
			expected: Fatal,
		},
		{
			name:     "cancelled context",
			err:      fmt.Errorf("request: %w", context.Canceled),
			expected: Fatal,
		},
		{
			name:     "empty response",
			err:      ErrEmptyResponse,
			expected: Fatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestClassification_String(t *testing.T) {
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "unavailable", Unavailable.String())
	assert.Equal(t, "fatal", Fatal.String())
	assert.Equal(t, "none", Unclassified.String())
}

func TestRetryHint(t *testing.T) {
	assert.Equal(t, 7*time.Second, retryHint(&providerErr{status: 429, hint: 7 * time.Second}))
	assert.Equal(t, time.Duration(0), retryHint(errors.New("plain")))
	assert.Equal(t, 3*time.Second, retryHint(fmt.Errorf("wrapped: %w", &providerErr{hint: 3 * time.Second})))
}
