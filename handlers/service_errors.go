package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/vision-gateway/services"
	"github.com/upb/vision-gateway/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	message := errorMessage(err)
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsExhaustedError(err):
		// Rate-limited exhaustion is temporary; anything else is a bad upstream
		if retryAfter, ok := details["retry_after_seconds"].(int); ok {
			writeErr = utils.WriteServiceUnavailable(w, message, details, retryAfter)
		} else {
			writeErr = utils.WriteError(w, http.StatusBadGateway, message, details)
		}

	case services.IsTimeoutError(err):
		writeErr = utils.WriteError(w, http.StatusGatewayTimeout, message, details)

	case services.IsExternalError(err):
		writeErr = utils.WriteError(w, http.StatusBadGateway, message, details)

	case services.IsConfigurationError(err):
		logger.Error("configuration error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, message)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var details map[string]interface{}
	if fields := utils.GetValidationFields(err); fields != nil {
		details = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
	}

	if err := utils.WriteBadRequest(w, errorMessage(err), details); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

func errorMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}
