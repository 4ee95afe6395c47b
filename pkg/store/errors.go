package store

import (
	"errors"
	"fmt"

	"github.com/aris-ai/aris/pkg/models"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
)

// InvalidTransitionError reports a rejected non-monotonic status change.
type InvalidTransitionError struct {
	ActionID string
	From     models.ActionStatus
	To       models.ActionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for action %s: %s -> %s", e.ActionID, e.From, e.To)
}

// IsInvalidTransition checks if an error is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
