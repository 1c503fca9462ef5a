package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/vision-gateway/middleware"
	"github.com/upb/vision-gateway/models"
	"github.com/upb/vision-gateway/repositories"
	"github.com/upb/vision-gateway/utils"
)

const defaultRunLimit = 50

// RunService defines the run query operations used by the handler
type RunService interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error)
	ListRuns(ctx context.Context, filter repositories.RunFilter) ([]*models.AnalysisRun, error)
}

// ListRunsQuery holds the query parameters of GET /api/v1/runs
type ListRunsQuery struct {
	Status string `json:"status" validate:"omitempty,oneof=succeeded exhausted failed cancelled"`
	Limit  int    `json:"limit" validate:"gte=1,lte=100"`
	Offset int    `json:"offset" validate:"gte=0"`
}

// ListRunsResponse is a page of runs
type ListRunsResponse struct {
	Runs   []*models.AnalysisRun `json:"runs"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// RunHandler handles analysis run HTTP requests
type RunHandler struct {
	service RunService
	logger  *zap.Logger
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(service RunService, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		service: service,
		logger:  logger,
	}
}

// HandleListRuns handles GET /api/v1/runs
// Authenticated callers only see their own runs.
func (h *RunHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	query, err := parseListRunsQuery(r)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(query); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	runs, err := h.service.ListRuns(r.Context(), repositories.RunFilter{
		Status:  models.RunStatus(query.Status),
		Subject: middleware.GetSubjectFromContext(r.Context()),
		Limit:   query.Limit,
		Offset:  query.Offset,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, ListRunsResponse{Runs: runs, Limit: query.Limit, Offset: query.Offset}); err != nil {
		h.logger.Error("failed to write runs response", zap.Error(err))
	}
}

// HandleGetRun handles GET /api/v1/runs/{id}
func (h *RunHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	// Runs of other callers are reported as missing
	if subject := middleware.GetSubjectFromContext(r.Context()); subject != "" && run.Subject != subject {
		_ = utils.WriteNotFound(w, "analysis run not found")
		return
	}

	if err := utils.WriteOK(w, run); err != nil {
		h.logger.Error("failed to write run response", zap.Error(err))
	}
}

func parseListRunsQuery(r *http.Request) (*ListRunsQuery, error) {
	q := r.URL.Query()
	query := &ListRunsQuery{
		Status: q.Get("status"),
		Limit:  defaultRunLimit,
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("limit must be a number: %q", raw)
		}
		query.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("offset must be a number: %q", raw)
		}
		query.Offset = n
	}

	return query, nil
}
