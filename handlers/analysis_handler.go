package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/vision-gateway/middleware"
	"github.com/upb/vision-gateway/services/analysis"
	"github.com/upb/vision-gateway/utils"
)

const multipartMemory = 8 << 20

// AnalysisService defines the analysis operations used by the handler
type AnalysisService interface {
	Analyze(ctx context.Context, req *analysis.AnalyzeRequest) (*analysis.AnalyzeResponse, error)
	ListModels(ctx context.Context) (*analysis.ModelsResponse, error)
}

// AnalyzeJSONRequest is the JSON form of an analyze call. Image data is base64.
type AnalyzeJSONRequest struct {
	Prompt      string             `json:"prompt"`
	Images      []AnalyzeJSONImage `json:"images"`
	Temperature *float64           `json:"temperature,omitempty"`
	Models      []string           `json:"models,omitempty"`
	Options     map[string]any     `json:"options,omitempty"`
}

// AnalyzeJSONImage is one base64-encoded image
type AnalyzeJSONImage struct {
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data"`
}

// AnalysisHandler handles analysis HTTP requests
type AnalysisHandler struct {
	service        AnalysisService
	uploadMaxBytes int64
	logger         *zap.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler
func NewAnalysisHandler(service AnalysisService, uploadMaxBytes int64, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service:        service,
		uploadMaxBytes: uploadMaxBytes,
		logger:         logger,
	}
}

// HandleAnalyze handles POST /api/v1/analyze
// Accepts multipart/form-data (prompt, image files, temperature, models,
// options) or an application/json body.
func (h *AnalysisHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	if h.uploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		req *analysis.AnalyzeRequest
		err error
	)
	switch mediaType {
	case "multipart/form-data":
		req, err = h.parseMultipart(r)
	case "application/json":
		req, err = parseJSON(r)
	default:
		_ = utils.WriteBadRequest(w, "Content-Type must be multipart/form-data or application/json", nil)
		return
	}

	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.logger.Warn("analyze request too large",
				zap.String("request_id", requestID),
				zap.Int64("limit", maxErr.Limit))
			_ = utils.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), nil)
			return
		}

		h.logger.Warn("failed to parse analyze request",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	req.RequestID = requestID
	req.Subject = middleware.GetSubjectFromContext(ctx)

	resp, err := h.service.Analyze(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write analyze response", zap.Error(err))
	}
}

// HandleListModels handles GET /api/v1/models
func (h *AnalysisHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListModels(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write models response", zap.Error(err))
	}
}

func (h *AnalysisHandler) parseMultipart(r *http.Request) (*analysis.AnalyzeRequest, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, err
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := &analysis.AnalyzeRequest{Prompt: r.FormValue("prompt")}

	if raw := strings.TrimSpace(r.FormValue("temperature")); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("temperature must be a number: %q", raw)
		}
		req.Temperature = &t
	}

	for _, v := range r.MultipartForm.Value["models"] {
		req.Models = append(req.Models, splitList(v)...)
	}

	if raw := strings.TrimSpace(r.FormValue("options")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Options); err != nil {
			return nil, fmt.Errorf("options must be a JSON object: %w", err)
		}
	}

	for _, fh := range r.MultipartForm.File["image"] {
		data, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		req.Images = append(req.Images, analysis.ImageInput{Filename: fh.Filename, Data: data})
	}

	return req, nil
}

func parseJSON(r *http.Request) (*analysis.AnalyzeRequest, error) {
	var body AnalyzeJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	req := &analysis.AnalyzeRequest{
		Prompt:      body.Prompt,
		Temperature: body.Temperature,
		Models:      body.Models,
		Options:     body.Options,
	}
	for _, img := range body.Images {
		req.Images = append(req.Images, analysis.ImageInput{Filename: img.Filename, Data: img.Data})
	}
	return req, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return data, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
