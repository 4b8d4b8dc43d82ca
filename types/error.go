package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Resolver error codes
const (
	ErrDuplicateTask     ErrorCode = "DUPLICATE_TASK"
	ErrDependencyCycle   ErrorCode = "DEPENDENCY_CYCLE"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrTaskNotFound      ErrorCode = "TASK_NOT_FOUND"
)

// Checkpoint store error codes
const (
	ErrPersistence        ErrorCode = "PERSISTENCE"
	ErrThreadNotFound     ErrorCode = "THREAD_NOT_FOUND"
	ErrCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrStoreClosed        ErrorCode = "STORE_CLOSED"
)

// Approval and execution error codes
const (
	ErrApprovalNotFound  ErrorCode = "APPROVAL_NOT_FOUND"
	ErrApprovalResolved  ErrorCode = "APPROVAL_RESOLVED"
	ErrExecutionRejected ErrorCode = "EXECUTION_REJECTED"
	ErrRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
