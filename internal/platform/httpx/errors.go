// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

// Expected reports whether err is an anticipated user-facing condition
// rather than a system failure.
func Expected(err error) bool {
	switch {
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrPermissionDenied),
		errors.Is(err, shared.ErrInvalidTransition),
		errors.Is(err, shared.ErrQuantityViolation),
		errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return true
	}
	return false
}

// LogError logs err at warn when it is an expected condition and at error
// otherwise. Extra args pass through to the log record.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	if logger == nil || err == nil {
		return
	}
	args = append(args, slog.Any("error", err))
	if Expected(err) {
		logger.Warn(msg, args...)
		return
	}
	logger.Error(msg, args...)
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Permission Denied", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrQuantityViolation):
		Problem(w, http.StatusUnprocessableEntity, "Quantity Violation", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
