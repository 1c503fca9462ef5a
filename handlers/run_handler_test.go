package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/vision-gateway/middleware"
	"github.com/upb/vision-gateway/models"
	"github.com/upb/vision-gateway/repositories"
	"github.com/upb/vision-gateway/services"
	"github.com/upb/vision-gateway/utils"
)

// MockRunService is a mock implementation of RunService
type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) GetRun(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AnalysisRun), args.Error(1)
}

func (m *MockRunService) ListRuns(ctx context.Context, filter repositories.RunFilter) ([]*models.AnalysisRun, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AnalysisRun), args.Error(1)
}

func runRouter(handler *RunHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/runs", handler.HandleListRuns)
	r.Get("/api/v1/runs/{id}", handler.HandleGetRun)
	return r
}

func TestHandleListRuns(t *testing.T) {
	logger := zap.NewNop()

	t.Run("defaults", func(t *testing.T) {
		mockService := new(MockRunService)
		router := runRouter(NewRunHandler(mockService, logger))

		runs := []*models.AnalysisRun{models.NewAnalysisRun("req-1", "", 1, 10)}
		mockService.On("ListRuns", mock.Anything, repositories.RunFilter{Limit: 50}).Return(runs, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		data := response["data"].(map[string]interface{})
		assert.Len(t, data["runs"], 1)
		assert.Equal(t, float64(50), data["limit"])
		mockService.AssertExpectations(t)
	})

	t.Run("filters and subject", func(t *testing.T) {
		mockService := new(MockRunService)
		router := runRouter(NewRunHandler(mockService, logger))

		mockService.On("ListRuns", mock.Anything, repositories.RunFilter{
			Status:  models.RunStatusExhausted,
			Subject: "user-1",
			Limit:   10,
			Offset:  20,
		}).Return([]*models.AnalysisRun{}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?status=exhausted&limit=10&offset=20", nil)
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{Sub: "user-1"}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	tests := []struct {
		name  string
		query string
		field string
	}{
		{"non-numeric limit", "limit=ten", ""},
		{"non-numeric offset", "offset=x", ""},
		{"limit too large", "limit=500", "limit"},
		{"negative offset", "offset=-1", "offset"},
		{"unknown status", "status=running", "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockRunService)
			router := runRouter(NewRunHandler(mockService, logger))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs?"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			if tt.field != "" {
				var response utils.ErrorResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Contains(t, response.Details, tt.field)
			}
			mockService.AssertNotCalled(t, "ListRuns")
		})
	}
}

func TestHandleGetRun(t *testing.T) {
	logger := zap.NewNop()

	t.Run("found", func(t *testing.T) {
		mockService := new(MockRunService)
		router := runRouter(NewRunHandler(mockService, logger))

		run := models.NewAnalysisRun("req-1", "", 1, 10)
		run.MarkAsSucceeded("gemini/gemini-1.5-flash", 1, 120)
		mockService.On("GetRun", mock.Anything, run.ID).Return(run, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID.String(), nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "succeeded", data["status"])
		assert.Equal(t, "gemini/gemini-1.5-flash", data["candidate"])
	})

	t.Run("not found", func(t *testing.T) {
		mockService := new(MockRunService)
		router := runRouter(NewRunHandler(mockService, logger))

		id := uuid.New()
		mockService.On("GetRun", mock.Anything, id).Return(nil, services.ErrRunNotFound)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id.String(), nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("other subject is hidden", func(t *testing.T) {
		mockService := new(MockRunService)
		router := runRouter(NewRunHandler(mockService, logger))

		run := models.NewAnalysisRun("req-1", "user-2", 0, 10)
		mockService.On("GetRun", mock.Anything, run.ID).Return(run, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID.String(), nil)
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{Sub: "user-1"}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		mockService := new(MockRunService)
		router := runRouter(NewRunHandler(mockService, logger))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/not-a-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "GetRun")
	})
}
