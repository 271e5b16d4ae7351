package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/upb/spa-auth/services"
	"github.com/upb/spa-auth/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	var writeErr error

	switch {
	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, messageOf(err))

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, messageOf(err))

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, messageOf(err), details)

	case services.IsRateLimitedError(err):
		writeErr = utils.WriteTooManyRequests(w, messageOf(err), retryAfter(details))

	case errors.Is(err, services.ErrUnexpectedResponse):
		logger.Warn("unexpected auth service response", zap.Error(err))
		writeErr = utils.WriteBadGateway(w, messageOf(err), details)

	case services.IsExternalError(err):
		logger.Warn("auth service unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, messageOf(err))

	case services.IsInternalError(err):
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

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
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

// retryAfter reads the retry_after detail set by the login throttle
func retryAfter(details map[string]interface{}) time.Duration {
	if d, ok := details["retry_after"].(time.Duration); ok {
		return d
	}
	return 0
}

// messageOf returns the client-facing message without wrapped causes
func messageOf(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}
