package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/courseforge/internal/api/middleware"
	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/generator"
)

// APIError represents a structured API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// NewAPIError creates a new API error
func NewAPIError(code string, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithDetails adds details to the error
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrorResponse is the JSON structure for error responses
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// Classify maps an error returned by the engine or the generator to a
// status code and envelope. Missing identity (401) is handled by middleware;
// an authenticated learner touching someone else's resource gets 403.
func Classify(err error) (int, *APIError) {
	var nf *domain.NotFoundError
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound, NewAPIError("NOT_FOUND", nf.Error()).
			WithDetails(map[string]string{"resource": nf.Resource, "id": nf.ID}).WithCause(err)
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, NewAPIError("NOT_FOUND", "resource not found").WithCause(err)
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, NewAPIError("FORBIDDEN", "resource belongs to another learner").WithCause(err)
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, NewAPIError("BAD_REQUEST", err.Error()).WithCause(err)
	case errors.Is(err, generator.ErrRateLimited):
		return http.StatusTooManyRequests, NewAPIError("RATE_LIMITED", "content generation rate limit exceeded").WithCause(err)
	case errors.Is(err, generator.ErrMalformed):
		return http.StatusBadGateway, NewAPIError("GENERATION_FAILED", "content generator returned unusable content").WithCause(err)
	case errors.Is(err, generator.ErrUnavailable):
		return http.StatusServiceUnavailable, NewAPIError("GENERATOR_UNAVAILABLE", "content generator unavailable, try again later").WithCause(err)
	case domain.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, NewAPIError("UNAVAILABLE", "temporarily unavailable, try again").WithCause(err)
	default:
		return http.StatusInternalServerError, NewAPIError("INTERNAL_ERROR", "internal error").WithCause(err)
	}
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *APIError) {
	logAttrs := []any{
		"code", apiErr.Code,
		"message", apiErr.Message,
		"status", statusCode,
		"method", r.Method,
		"path", r.URL.Path,
	}

	if apiErr.cause != nil {
		logAttrs = append(logAttrs, "cause", apiErr.cause.Error())
	}
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		logAttrs = append(logAttrs, "request_id", requestID)
	}
	if learnerID, ok := middleware.GetLearnerID(r.Context()); ok {
		logAttrs = append(logAttrs, "learner_id", learnerID.String())
	}

	switch {
	case errors.Is(apiErr, domain.ErrInvariantViolation):
		slog.Error("invariant violation", logAttrs...)
	case statusCode >= 500:
		slog.Error("api error", logAttrs...)
	case statusCode >= 400:
		slog.Warn("api error", logAttrs...)
	}

	WriteJSON(w, statusCode, ErrorResponse{Error: apiErr})
}

// WriteDomainError classifies err and writes it.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := Classify(err)
	WriteError(w, r, status, apiErr)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// BadRequest writes a 400 with message
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusBadRequest, NewAPIError("BAD_REQUEST", message))
}

// NotFound writes a 404 for resource
func NotFound(w http.ResponseWriter, r *http.Request, resource string) {
	WriteError(w, r, http.StatusNotFound, NewAPIError("NOT_FOUND", resource+" not found"))
}

// Unauthorized writes a 401
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, http.StatusUnauthorized, NewAPIError("UNAUTHORIZED", message))
}
