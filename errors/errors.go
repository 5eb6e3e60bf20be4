// Package errors provides error handling for Fabrica.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Common sentinel errors for use across Fabrica.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested execution, task, or gate does not exist
	ErrNotFound = New("not found")

	// ErrInvalidTransition indicates an execution state change not present in the
	// transition table. Caller error; never retried automatically.
	ErrInvalidTransition = New("invalid state transition")

	// ErrGateTransition indicates an illegal gate status change
	ErrGateTransition = New("invalid gate transition")

	// ErrAlreadyInitialized indicates a one-time setup operation was called twice
	ErrAlreadyInitialized = New("already initialized")

	// ErrExecutionPaused indicates the execution's pause flag is set
	ErrExecutionPaused = New("execution paused")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidTransitionError checks if an error is or wraps ErrInvalidTransition
func IsInvalidTransitionError(err error) bool {
	return err != nil && Is(err, ErrInvalidTransition)
}

// IsGateTransitionError checks if an error is or wraps ErrGateTransition
func IsGateTransitionError(err error) bool {
	return err != nil && Is(err, ErrGateTransition)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}
