package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/vision-gateway/services/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	generateMethod = "generateContent"
	retryInfoType  = "type.googleapis.com/google.rpc.RetryInfo"
	listPageSize   = 1000
)

// GeminiAdapter implements the Provider interface for the Gemini REST API
type GeminiAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewGeminiAdapter creates a new Gemini adapter
func NewGeminiAdapter(config providers.ProviderConfig) *GeminiAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &GeminiAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// New is a providers.ProviderBuilder for the registry builder
func New(config providers.ProviderConfig) (providers.Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	return NewGeminiAdapter(config), nil
}

// Name returns the provider name
func (a *GeminiAdapter) Name() string {
	return "gemini"
}

// Generate performs a single generateContent call. Retrying is the caller's job.
func (a *GeminiAdapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	startTime := time.Now()

	model := strings.TrimPrefix(req.Model, "models/")
	if model == "" {
		return nil, providers.NewProviderError(a.Name(), "INVALID_MODEL", "model is required", http.StatusBadRequest, nil)
	}

	reqBody, err := json.Marshal(a.buildGeminiRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:%s", a.config.BaseURL, url.PathEscape(model), generateMethod)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.setHeaders(httpReq)

	respBody, status, err := a.do(httpReq)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, a.handleErrorResponse(status, respBody)
	}

	var geminiResp GeminiGenerateResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", status, err)
	}

	text, finishReason := geminiResp.text()
	if strings.TrimSpace(text) == "" {
		reason := finishReason
		if geminiResp.PromptFeedback != nil && geminiResp.PromptFeedback.BlockReason != "" {
			reason = "blocked: " + geminiResp.PromptFeedback.BlockReason
		}
		if reason == "" {
			reason = "no candidates"
		}
		return nil, providers.NewProviderError(a.Name(), providers.CodeEmptyResponse,
			fmt.Sprintf("model %s returned no text (%s)", model, reason), status, nil)
	}

	return &providers.GenerateResponse{
		Model:        model,
		Text:         text,
		FinishReason: finishReason,
		Provider:     a.Name(),
		Usage: providers.Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		},
		Latency: time.Since(startTime),
	}, nil
}

// ListModels returns the models that support generateContent, without the
// "models/" prefix. All pages are read.
func (a *GeminiAdapter) ListModels(ctx context.Context) ([]string, error) {
	var models []string
	pageToken := ""

	for {
		query := url.Values{}
		query.Set("pageSize", fmt.Sprint(listPageSize))
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/models?"+query.Encode(), nil)
		if err != nil {
			return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, err)
		}
		a.setHeaders(httpReq)

		respBody, status, err := a.do(httpReq)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, a.handleErrorResponse(status, respBody)
		}

		var page GeminiModelList
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal model list", status, err)
		}

		for _, m := range page.Models {
			if m.supports(generateMethod) {
				models = append(models, strings.TrimPrefix(m.Name, "models/"))
			}
		}

		if page.NextPageToken == "" {
			return models, nil
		}
		pageToken = page.NextPageToken
	}
}

func (a *GeminiAdapter) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", a.config.APIKey)
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
}

func (a *GeminiAdapter) do(req *http.Request) ([]byte, int, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", resp.StatusCode, err)
	}

	return body, resp.StatusCode, nil
}

// buildGeminiRequest converts unified request to Gemini format
func (a *GeminiAdapter) buildGeminiRequest(req *providers.GenerateRequest) *GeminiGenerateRequest {
	parts := make([]GeminiPart, 0, len(req.Images)+1)
	parts = append(parts, GeminiPart{Text: req.Prompt})
	for _, img := range req.Images {
		parts = append(parts, GeminiPart{
			InlineData: &GeminiInlineData{
				MimeType: img.MimeType,
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	generationConfig := make(map[string]any, len(req.Extra)+1)
	for k, v := range req.Extra {
		generationConfig[k] = v
	}
	generationConfig["temperature"] = req.Temperature

	return &GeminiGenerateRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: parts},
		},
		GenerationConfig: generationConfig,
	}
}

// handleErrorResponse handles Gemini error responses
func (a *GeminiAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp GeminiErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(statusCode)
		}
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", message, statusCode, nil)
	}

	provErr := providers.NewProviderError(
		a.Name(),
		errResp.Error.Status,
		errResp.Error.Message,
		statusCode,
		nil,
	)
	provErr.RetryDelay = errResp.Error.retryDelay()

	return provErr
}

// Gemini-specific request/response types

type GeminiGenerateRequest struct {
	Contents         []GeminiContent `json:"contents"`
	GenerationConfig map[string]any  `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inline_data,omitempty"`
}

type GeminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type GeminiGenerateResponse struct {
	Candidates     []GeminiCandidate     `json:"candidates"`
	PromptFeedback *GeminiPromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  GeminiUsage           `json:"usageMetadata"`
}

// text concatenates the text parts of the first candidate
func (r *GeminiGenerateResponse) text() (string, string) {
	if len(r.Candidates) == 0 {
		return "", ""
	}
	first := r.Candidates[0]

	var sb strings.Builder
	for _, part := range first.Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), first.FinishReason
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type GeminiPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type GeminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type GeminiModelList struct {
	Models        []GeminiModel `json:"models"`
	NextPageToken string        `json:"nextPageToken"`
}

type GeminiModel struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

func (m GeminiModel) supports(method string) bool {
	for _, s := range m.SupportedGenerationMethods {
		if s == method {
			return true
		}
	}
	return false
}

type GeminiErrorResponse struct {
	Error GeminiError `json:"error"`
}

type GeminiError struct {
	Code    int                 `json:"code"`
	Message string              `json:"message"`
	Status  string              `json:"status"`
	Details []GeminiErrorDetail `json:"details"`
}

type GeminiErrorDetail struct {
	Type       string `json:"@type"`
	RetryDelay string `json:"retryDelay,omitempty"`
}

// retryDelay returns the RetryInfo hint, or 0
func (e GeminiError) retryDelay() time.Duration {
	for _, d := range e.Details {
		if d.Type != retryInfoType || d.RetryDelay == "" {
			continue
		}
		if delay, err := time.ParseDuration(d.RetryDelay); err == nil && delay > 0 {
			return delay
		}
	}
	return 0
}
