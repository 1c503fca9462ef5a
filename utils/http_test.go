package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]string{"result": "success"}))
	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	dataMap := response.Data.(map[string]interface{})
	assert.Equal(t, "success", dataMap["result"])
}

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name      string
		write     func(w http.ResponseWriter) error
		status    int
		errorType string
		message   string
	}{
		{
			name:      "bad request",
			write:     func(w http.ResponseWriter) error { return WriteBadRequest(w, "bad prompt", nil) },
			status:    http.StatusBadRequest,
			errorType: "bad_request",
			message:   "bad prompt",
		},
		{
			name:      "unauthorized default message",
			write:     func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			status:    http.StatusUnauthorized,
			errorType: "unauthorized",
			message:   "Authentication required",
		},
		{
			name:      "not found default message",
			write:     func(w http.ResponseWriter) error { return WriteNotFound(w, "") },
			status:    http.StatusNotFound,
			errorType: "not_found",
			message:   "Resource not found",
		},
		{
			name:      "internal default message",
			write:     func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			status:    http.StatusInternalServerError,
			errorType: "internal_error",
			message:   "Internal server error",
		},
		{
			name:      "bad gateway",
			write:     func(w http.ResponseWriter) error { return WriteError(w, http.StatusBadGateway, "rejected", nil) },
			status:    http.StatusBadGateway,
			errorType: "bad_gateway",
			message:   "rejected",
		},
		{
			name:      "gateway timeout",
			write:     func(w http.ResponseWriter) error { return WriteError(w, http.StatusGatewayTimeout, "slow", nil) },
			status:    http.StatusGatewayTimeout,
			errorType: "gateway_timeout",
			message:   "slow",
		},
		{
			name:      "unknown status",
			write:     func(w http.ResponseWriter) error { return WriteError(w, http.StatusTeapot, "teapot", nil) },
			status:    http.StatusTeapot,
			errorType: "internal_error",
			message:   "teapot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.status, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.errorType, response.Error)
			assert.Equal(t, tt.message, response.Message)
		})
	}
}

func TestWriteServiceUnavailable(t *testing.T) {
	t.Run("with retry after", func(t *testing.T) {
		w := httptest.NewRecorder()
		details := map[string]interface{}{"verdict": "rate_limited"}

		require.NoError(t, WriteServiceUnavailable(w, "rate limited", details, 30))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))

		var response ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "service_unavailable", response.Error)
		assert.Equal(t, "rate_limited", response.Details["verdict"])
	})

	t.Run("without retry after", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteServiceUnavailable(w, "down", nil, 0))
		assert.Empty(t, w.Header().Get("Retry-After"))
	})
}
