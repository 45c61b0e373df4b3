package incident_errors

import "errors"

// Common errors
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrVersionConflict = errors.New("version conflict")
	ErrUnknownEvent    = errors.New("unknown event kind or version")
	ErrPersistence     = errors.New("persistence failure")
	ErrInvalidInput    = errors.New("invalid input")
	ErrOutOfOrder      = errors.New("event delivered out of order")
)

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrOutOfOrder)
}
