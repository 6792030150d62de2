package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, contracts.SuccessResponse{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, contracts.SuccessResponse{Status: "success", Message: message})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeErrorPayload(w, statusCode, contracts.ErrorPayload{Code: code, Message: message})
}

func writeErrorPayload(w http.ResponseWriter, statusCode int, payload contracts.ErrorPayload) {
	writeJSON(w, statusCode, contracts.ErrorResponse{
		Status:    "error",
		Code:      payload.Code,
		Message:   payload.Message,
		RequestID: payload.RequestID,
		Error:     payload,
	})
}

// writeDomainError maps err onto the error envelope and logs the failure.
// Guard rejections carry the names of the guards that failed.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	statusCode, code, message := mapDomainError(err)
	payload := contracts.ErrorPayload{
		Code:      code,
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	}
	var guardErr *domain.GuardError
	if errors.As(err, &guardErr) {
		payload.Failed = guardErr.Failed
	}
	h.logOperationError(r, operation, statusCode, code, err)
	writeErrorPayload(w, statusCode, payload)
}

func mapDomainError(err error) (int, string, string) {
	var guardErr *domain.GuardError
	switch {
	case errors.As(err, &guardErr):
		return http.StatusUnprocessableEntity, "GUARD_REJECTED", err.Error()
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidEnvelope):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", err.Error()
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "IDEMPOTENCY_CONFLICT", "idempotency key reused with a different request"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrEpisodeClosed):
		return http.StatusUnprocessableEntity, "INVALID_TRANSITION", err.Error()
	case errors.Is(err, domain.ErrGuardRejected):
		return http.StatusUnprocessableEntity, "GUARD_REJECTED", err.Error()
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "rate limit exceeded"
	case errors.Is(err, domain.ErrDependencyUnavailable), errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
