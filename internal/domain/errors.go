package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrValidation is returned when a domain value fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrMissingIdentity is returned when a submission carries no identity.
	ErrMissingIdentity = errors.New("identity is missing")

	// ErrMissingTaskType is returned when a submission names no task kind.
	ErrMissingTaskType = errors.New("task type is missing")

	// ErrInvalidIdentity is returned when an identity cannot be decoded.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// ValidationError describes a single invalid field. Its Message is safe to
// show to the submitter.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError for field wrapping err.
// If err is nil, ErrValidation is wrapped.
func NewValidationError(field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrValidation
	}
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrValidation) match every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
