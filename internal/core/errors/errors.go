package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks construction failures: missing mandatory fields, malformed JSON,
	// invalid enum values, non-positive caps, overlapping trigger data.
	ErrValidation = errors.New("validation failed")

	// ErrLookup marks caller contract violations such as querying trigger data that is not
	// registered or an index outside the flattened range. Callers check membership first.
	ErrLookup = errors.New("lookup contract violated")
)

// ValidationError describes a single rejected input.
type ValidationError struct {
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field '%s': %s", e.Entity, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) succeed for every ValidationError.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(entity, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Entity:  entity,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewRequiredFieldError creates an error for a missing mandatory field.
func NewRequiredFieldError(entity, field string) *ValidationError {
	return &ValidationError{
		Entity:  entity,
		Field:   field,
		Message: "required field is missing",
	}
}

// Lookupf returns an error wrapping ErrLookup.
func Lookupf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrLookup, fmt.Sprintf(format, args...))
}
