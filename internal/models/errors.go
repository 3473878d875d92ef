package models

import (
	"errors"
	"fmt"
)

// Validation reasons. A ValidationError unwraps to one of these.
var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidField    = errors.New("invalid field")
	ErrUnknownPosition = errors.New("unknown position")
)

// Store and reconciliation errors.
var (
	ErrNotFound                = errors.New("not found")
	ErrVersionConflict         = errors.New("document version conflict")
	ErrReconciliationAbandoned = errors.New("reconciliation abandoned: document reloaded")
	ErrNoSnapshot              = errors.New("no snapshot for date")
)

// ValidationError reports rejected user input. No state is mutated when one
// is returned.
type ValidationError struct {
	Field   string
	Reason  error
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %v: %s", e.Field, e.Reason, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field string, reason error, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError is returned when two writers disagree on a finalized value
// and the caller asked for strict handling.
type ConflictError struct {
	Date     string
	Field    string
	Existing float64
	Incoming float64
	Writer   SnapshotWriter
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconciliation conflict on %s %s: stored %.2f, %s computed %.2f",
		e.Date, e.Field, e.Existing, e.Writer, e.Incoming)
}
