package models

import "errors"

// Error categories surfaced at the API boundary. Packages wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	// ErrValidation marks missing or empty required input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup for a document id that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrProvider marks a failed embedding or generation call.
	ErrProvider = errors.New("provider error")
	// ErrStorage marks a persistence failure, including constraint violations.
	ErrStorage = errors.New("storage error")
	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = errors.New("timeout")
)

// ErrorCode maps an error to its stable external category.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
