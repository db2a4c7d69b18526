// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/congregate/congregate/internal/shared"
)

// StatusFor maps a domain error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrUpstreamUnavailable):
		return http.StatusInternalServerError
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrEmailNotConfirmed),
		errors.Is(err, shared.ErrCSRFTokenMissing), errors.Is(err, shared.ErrCSRFTokenMismatch):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrInvalidRole), errors.Is(err, shared.ErrInvalidPermission), errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrPartialFailure):
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Messages are fixed per class; only client errors carry the error text as detail.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusUnauthorized:
		Problem(w, status, "Unauthorized", "authentication required")
	case http.StatusForbidden:
		if errors.Is(err, shared.ErrEmailNotConfirmed) {
			Problem(w, status, "Forbidden", "email address has not been confirmed; check your inbox")
			return
		}
		Problem(w, status, "Forbidden", "you are not allowed to perform this action")
	case http.StatusBadRequest:
		Problem(w, status, "Validation Failed", err.Error())
	case http.StatusNotFound:
		Problem(w, status, "Not Found", "resource not found")
	case http.StatusConflict:
		Problem(w, status, "Duplicate", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// LogAndRespond logs server-side failures before responding.
func LogAndRespond(logger *slog.Logger, w http.ResponseWriter, r *http.Request, msg string, err error) {
	if logger != nil && StatusFor(err) >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	RespondError(w, err)
}
