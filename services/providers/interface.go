package providers

import (
	"context"
	"fmt"
	"time"
)

// Provider represents a multimodal text-generation backend
type Provider interface {
	// Name returns the provider name (e.g., "gemini", "openai")
	Name() string

	// Generate sends one prompt with its images to a model and returns the reply
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// ListModels returns the models this credential may call for generation
	ListModels(ctx context.Context) ([]string, error)
}

// GenerateRequest represents a unified generation request
type GenerateRequest struct {
	// Model identifier without the provider prefix (e.g., "gemini-1.5-flash")
	Model string `json:"model"`

	// Prompt is the instruction text
	Prompt string `json:"prompt"`

	// Images attached to the prompt, in order
	Images []Image `json:"-"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature"`

	// Extra provider-specific generation options, passed through verbatim
	Extra map[string]any `json:"extra,omitempty"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Image is one binary attachment
type Image struct {
	MimeType string
	Data     []byte
}

// GenerateResponse represents a unified generation response
type GenerateResponse struct {
	// ID is the provider's response identifier, when it reports one
	ID string `json:"id,omitempty"`

	// Model that produced the reply
	Model string `json:"model"`

	// Text is the concatenated reply text
	Text string `json:"text"`

	// FinishReason as reported by the provider
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage statistics
	Usage Usage `json:"usage"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// Latency of the request
	Latency time.Duration `json:"latency"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for a single request
	Timeout time.Duration

	// Additional headers
	Headers map[string]string

	// OrgID for organization-specific endpoints
	OrgID string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 60 * time.Second,
		Headers: make(map[string]string),
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the provider's error code or status name
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// RetryDelay is the provider-suggested wait before retrying, if any
	RetryDelay time.Duration

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d", msg, e.StatusCode)
		if e.Code != "" {
			msg += ", " + e.Code
		}
		msg += ")"
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status the provider answered with.
func (e *ProviderError) HTTPStatus() int {
	return e.StatusCode
}

// ErrorCode returns the provider error code.
func (e *ProviderError) ErrorCode() string {
	return e.Code
}

// RetryAfter returns the provider-suggested wait, or 0.
func (e *ProviderError) RetryAfter() time.Duration {
	return e.RetryDelay
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}
