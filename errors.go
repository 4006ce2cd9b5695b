package xray

import (
	"errors"
	"fmt"
)

// ErrCompleted is returned when a step is attempted on an execution that
// has already reached its terminal state. Callers must not retry without
// creating a new session.
var ErrCompleted = errors.New("xray: execution already completed")

// ErrNotFound is returned by Store implementations when a requested
// execution does not exist.
var ErrNotFound = errors.New("xray: execution not found")

// ValidationError reports an invalid argument supplied to the session or
// builder, such as an empty execution or step name. It is surfaced
// synchronously to the immediate caller and is never retried internally.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("xray: invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validateName(field, name string) error {
	if len(name) == 0 || isBlank(name) {
		return &ValidationError{Field: field, Message: "must be a non-empty string"}
	}
	return nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
