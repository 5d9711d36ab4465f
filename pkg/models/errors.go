package models

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound is returned for unknown (or cancelled, where the
	// caller asks to control it) workflow ids.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// ValidationError rejects a malformed request before any workflow is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
