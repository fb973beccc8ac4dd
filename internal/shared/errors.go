package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied occurs when the caller's warehouse is on the wrong
	// side of the document for the attempted action.
	ErrPermissionDenied = errors.New("permission denied for this side")
	// ErrInvalidTransition occurs when the current status does not permit the
	// action. Safe to retry after a re-fetch.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrQuantityViolation occurs when a quantity would breach the
	// received <= delivered <= approved <= requested bound. Never clamped.
	ErrQuantityViolation = errors.New("quantity bound violation")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("invalid input")
	// ErrConflict indicates a uniqueness or ownership conflict.
	ErrConflict = errors.New("conflict")
)
