// Package errors provides standardized error handling for the lifecycle engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Input errors (rejected before any state change)
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Token errors
	ErrCodeTokenNotFound          ErrorCode = "TOKEN_NOT_FOUND"
	ErrCodeTokenMalformed         ErrorCode = "TOKEN_MALFORMED"
	ErrCodeDuplicateTokenIssuance ErrorCode = "DUPLICATE_TOKEN_ISSUANCE"

	// Recoverable workflow errors (retried with bounded backoff)
	ErrCodeDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	ErrCodeNoEligibleOfficer     ErrorCode = "NO_ELIGIBLE_OFFICER"
	ErrCodeStaleStateTransition  ErrorCode = "STALE_STATE_TRANSITION"

	// Fatal errors (never retried; application pinned for an operator)
	ErrCodeLedgerUnderflow ErrorCode = "LEDGER_UNDERFLOW"

	// Storage errors
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"

	// Lookup errors
	ErrCodeApplicationNotFound ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeOfficerNotFound     ErrorCode = "OFFICER_NOT_FOUND"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Fatal     bool                   `json:"fatal"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is lets errors.Is match two StandardErrors by code.
func (e *StandardError) Is(target error) bool {
	var std *StandardError
	if errors.As(target, &std) {
		return e.Code == std.Code
	}
	return false
}

// CodeOf extracts the ErrorCode from an error chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Code
	}
	return ""
}

// IsRetryable reports whether the error should be retried with backoff.
func IsRetryable(err error) bool {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Retryable
	}
	return false
}

// IsFatal reports whether the error must pin the application and halt
// automated transitions (ProgrammingError class).
func IsFatal(err error) bool {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Fatal
	}
	return false
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationFailedError creates a non-retryable input validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTokenNotFoundError creates a non-retryable unknown token error.
func NewTokenNotFoundError() *StandardError {
	return &StandardError{
		Code:      ErrCodeTokenNotFound,
		Message:   "Tracking token does not resolve to an application",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTokenMalformedError creates a non-retryable structural token error.
// It is returned before any lookup is attempted.
func NewTokenMalformedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTokenMalformed,
		Message:   "Tracking token is structurally invalid",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateTokenIssuanceError creates a fatal duplicate issuance error.
func NewDuplicateTokenIssuanceError(applicationID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateTokenIssuance,
		Message:   "Token already issued for application",
		Details:   fmt.Sprintf("applicationId: %d", applicationID),
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDependencyUnavailableError creates a retryable gateway error. The
// application holds its current state until a retry succeeds.
func NewDependencyUnavailableError(dependency string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDependencyUnavailable,
		Message:   "External dependency unavailable",
		Details:   fmt.Sprintf("dependency: %s, error: %v", dependency, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoEligibleOfficerError creates a retryable assignment error.
func NewNoEligibleOfficerError(department string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoEligibleOfficer,
		Message:   "No active officer available in department",
		Details:   fmt.Sprintf("department: %s", department),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleStateTransitionError creates the concurrent-race loser error.
// The caller retries the read and re-derives the correct action.
func NewStaleStateTransitionError(applicationID int64, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStaleStateTransition,
		Message:   "Application state changed concurrently",
		Details:   fmt.Sprintf("applicationId: %d, expected: %s, attempted: %s", applicationID, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerUnderflowError creates a fatal double-release error.
func NewLedgerUnderflowError(officerID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeLedgerUnderflow,
		Message:   "Workload decrement below zero",
		Details:   fmt.Sprintf("officerId: %d", officerID),
		Retryable: false,
		Fatal:     true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewApplicationNotFoundError creates a non-retryable lookup error.
func NewApplicationNotFoundError(applicationID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "Application not found",
		Details:   fmt.Sprintf("applicationId: %d", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewOfficerNotFoundError creates a non-retryable lookup error.
func NewOfficerNotFoundError(officerID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeOfficerNotFound,
		Message:   "Officer not found",
		Details:   fmt.Sprintf("officerId: %d", officerID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
