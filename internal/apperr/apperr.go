// Package apperr defines the error kinds shared by the session engine, the
// command queue and the HTTP layer. Callers classify with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad or missing input. Nothing was mutated.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown bay, card, service or command.
	// Errors of this kind also match ErrValidation.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a request that is well formed but not allowed in the
	// current state. Nothing was mutated.
	ErrConflict = errors.New("conflict")
	// ErrTransientStorage marks a storage failure that survived the bounded retry.
	ErrTransientStorage = errors.New("transient storage error")
	// ErrInvariantViolation marks corrupt in-memory state.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Validation returns an ErrValidation with the formatted reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an error matching both ErrNotFound and ErrValidation.
func NotFound(what string, id any) error {
	return fmt.Errorf("%w: %w: %s %v", ErrValidation, ErrNotFound, what, id)
}

// Conflict returns an ErrConflict with the formatted reason.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Invariant returns an ErrInvariantViolation with the formatted reason.
func Invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
