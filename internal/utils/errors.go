// Package utils provides the error and logging plumbing shared by the
// solver components.
package utils

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes a failure so callers can map it onto an exit code
// or an HTTP status without string matching.
type ErrorCode string

const (
	// Detection: no captcha-shaped elements on the page. Logged, not fatal.
	ErrCodeDetectionFailed ErrorCode = "DETECTION_FAILED"

	// Extraction: the image could not be turned into a data URL.
	ErrCodeExtractionFailed   ErrorCode = "EXTRACTION_FAILED"
	ErrCodeContextUnavailable ErrorCode = "CONTEXT_UNAVAILABLE"

	// Configuration: the solver endpoint is missing or the config is bad.
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Remote service: non-success response or malformed success payload.
	ErrCodeRemoteService ErrorCode = "REMOTE_SERVICE"
	ErrCodeNoSolution    ErrorCode = "NO_SOLUTION"

	// Browser automation failures (navigation, script evaluation).
	ErrCodeBrowserFailed ErrorCode = "BROWSER_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StructuredError carries an error code alongside the message and cause.
type StructuredError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// NewError creates a structured error without a cause.
func NewError(code ErrorCode, message string) *StructuredError {
	return &StructuredError{Code: code, Message: message}
}

// NewErrorf creates a structured error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...interface{}) *StructuredError {
	return &StructuredError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an existing error with a code and message.
func WrapError(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the error code from an error chain. Errors without a
// structured error in their chain report ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
