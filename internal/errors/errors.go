package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two hard pipeline failures. Everything else the
// pipeline recovers from locally and surfaces only as explanation flags.
var (
	// ErrRetrievalUnavailable means both the sparse and dense channels
	// failed; the query cannot be answered at all.
	ErrRetrievalUnavailable = New(ErrCodeRetrievalUnavailable, "both retrieval channels unavailable", nil)

	// ErrPipelineFailed means the candidate set ended up empty after all
	// corrective paths ran. It must be reported, never returned as an
	// empty success.
	ErrPipelineFailed = New(ErrCodePipelineFailed, "candidate set empty after corrective paths", nil)
)

// CoreError is the structured error type for the retrieval core.
// It provides context for error handling, logging, and API presentation.
type CoreError struct {
	// Code is the unique error code (e.g., "ERR_303_RETRIEVAL_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Index, Collaborator, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CoreError.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new CoreError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CoreError from an existing error.
// The error's message becomes the CoreError message.
func Wrap(code string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *CoreError {
	return New(ErrCodeInvalidInput, message, cause)
}

// CollaboratorError creates an error for a failed external collaborator call.
// Collaborator errors are typically retryable.
func CollaboratorError(message string, cause error) *CoreError {
	return New(ErrCodeCollaboratorUnavailable, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CoreError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error (or any error in its chain) is a CoreError
// with the Retryable flag set.
func IsRetryable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CoreError in the chain.
// Returns empty string if no CoreError is present.
func GetCode(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
