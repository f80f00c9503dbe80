// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Invalid parameters, configuration, intents
//   - Ledger errors (200-299): Cash/position shortfalls and ledger invariants
//   - Adapter errors (300-399): Pricing/execution adapter failures, transient and terminal
//   - Scheduler errors (400-499): Cycle scheduling, timeouts, engine lifecycle
//   - Reconciliation errors (500-599): Ledger drift against external truth
//   - Journal/state errors (600-699): Cycle journal and persisted state failures
//   - Market data errors (700-799): Candle fetching and parsing errors
//   - Callback errors (800-899): Callback execution failures
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidParameter, "invalid parameter value")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeNoLiquidity, "no liquidity for asset %s", asset)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeAdapterTransient, "order poll failed", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeAdapterTransient) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// DriftError represents a detected discrepancy between the internal ledger
// and an external source of truth for a single asset (cash uses an empty asset).
type DriftError struct {
	Asset    string  // Asset the drift was detected on
	Ledger   float64 // Quantity the ledger holds
	Observed float64 // Quantity the external source reports
	Message  string  // Human-readable message
}

// NewDriftError creates a new DriftError.
func NewDriftError(asset string, ledger, observed float64, message string) *DriftError {
	return &DriftError{
		Asset:    asset,
		Ledger:   ledger,
		Observed: observed,
		Message:  message,
	}
}

// NewDriftErrorf creates a new DriftError with a formatted message.
func NewDriftErrorf(asset string, ledger, observed float64, format string, args ...any) *DriftError {
	return &DriftError{
		Asset:    asset,
		Ledger:   ledger,
		Observed: observed,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *DriftError) Error() string {
	return e.Message
}

// IsDriftError checks if an error is a DriftError.
// It uses errors.As to check the error chain.
func IsDriftError(err error) bool {
	var driftErr *DriftError

	return errors.As(err, &driftErr)
}
