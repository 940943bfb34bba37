package service

import (
	"errors"
	"fmt"

	"bookflow/internal/database"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrTransactionMismatch     = errors.New("transaction id does not match")
	ErrCancellationUnavailable = errors.New("cancellation is not available")
	ErrNotFound                = database.ErrNotFound
)

// ValidationError describes a rejected field. It unwraps to ErrValidation.
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

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
