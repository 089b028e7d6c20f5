package task

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown task identifiers.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateTerminal marks a second terminal recording for a task.
	// The manager logs it and never returns it to callers.
	ErrDuplicateTerminal = errors.New("task already terminal")
	// ErrFeatureUnavailable is returned when a feature is requested for a
	// task that is not completed or did not generate that kind.
	ErrFeatureUnavailable = errors.New("feature not available")
	// ErrNotRunning rejects a terminal recording for a task that never
	// left pending.
	ErrNotRunning = errors.New("task is not running")
)

// ValidationError rejects a malformed creation request. No task is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
