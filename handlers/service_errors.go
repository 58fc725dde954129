package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/routing"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		// client went away; nothing useful can be written
		logger.Debug("request canceled", zap.Error(err))
		return
	}

	details := services.GetErrorDetails(err)

	// Routing failures wrap the last backend error, so they are checked
	// before the domain error types
	if failed, ok := routing.AsAllBackendsFailed(err); ok {
		writeAllBackendsFailed(w, failed, logger)
		return
	}

	var writeErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeErr = utils.WriteError(w, http.StatusGatewayTimeout, err.Error(), details)

	case services.IsNotFoundError(err):
		if len(details) > 0 {
			writeErr = utils.WriteError(w, http.StatusNotFound, err.Error(), details)
		} else {
			writeErr = utils.WriteNotFound(w, err.Error())
		}

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsConfigurationError(err):
		logger.Error("backend configuration error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, err.Error())

	case services.IsExternalError(err):
		writeErr = utils.WriteBadGateway(w, err.Error(), details)

	case services.IsStoreUnavailableError(err):
		writeErr = utils.WriteError(w, http.StatusServiceUnavailable, err.Error(), details)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// writeAllBackendsFailed answers 502, or 504 when the overall deadline
// stopped the loop, listing each attempt
func writeAllBackendsFailed(w http.ResponseWriter, failed *routing.AllBackendsFailedError, logger *zap.Logger) {
	attempts := make([]map[string]interface{}, len(failed.Attempts))
	for i, a := range failed.Attempts {
		attempts[i] = map[string]interface{}{
			"model_id":    a.ModelID,
			"error":       a.Err.Error(),
			"duration_ms": a.Duration.Milliseconds(),
		}
	}
	details := map[string]interface{}{
		"requested_model": failed.Requested,
		"attempts":        attempts,
	}

	status := http.StatusBadGateway
	if errors.Is(failed, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	if err := utils.WriteError(w, status, failed.Error(), details); err != nil {
		logger.Error("failed to write bad gateway response", zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
