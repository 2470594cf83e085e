package engine

import (
	"errors"
	"fmt"
)

// PolicyError represents a policy-domain failure.
//
// All checks are local and synchronous, so no PolicyError is transient:
// callers surface it verbatim and never retry.
type PolicyError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed ("register", "authorize", ...).
	Op string

	// Message is a human-readable description.
	Message string

	// Required is the buffer size needed, set for ErrCodeBufferTooSmall.
	Required int

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes policy errors.
type ErrorCode string

const (
	// ErrCodeInvalidParameter indicates malformed policy fields or arguments.
	ErrCodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// ErrCodeAlreadyExists indicates a duplicate policy target or a repeated
	// one-shot transition.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrCodeAlreadyLocked indicates a mutation of a locked policy interface.
	ErrCodeAlreadyLocked ErrorCode = "ALREADY_LOCKED"

	// ErrCodeAccessDenied indicates a forbidden state transition.
	ErrCodeAccessDenied ErrorCode = "ACCESS_DENIED"

	// ErrCodeWriteProtected indicates a write denied by a lock or by a size
	// or attribute constraint. The two causes are not distinguished.
	ErrCodeWriteProtected ErrorCode = "WRITE_PROTECTED"

	// ErrCodeBufferTooSmall indicates a dump buffer that cannot hold the table.
	ErrCodeBufferTooSmall ErrorCode = "BUFFER_TOO_SMALL"

	// ErrCodeNotFound indicates a query against a nonexistent variable.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeSecurityViolation indicates a rejected signature or timestamp.
	ErrCodeSecurityViolation ErrorCode = "SECURITY_VIOLATION"

	// ErrCodeUnsupported indicates an unknown command or format revision.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
)

// Error implements the error interface.
func (e *PolicyError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PolicyError) Unwrap() error {
	return e.Err
}

// NewError creates a PolicyError with a formatted message.
func NewError(op string, code ErrorCode, format string, args ...any) *PolicyError {
	return &PolicyError{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a PolicyError around an underlying cause.
func WrapError(op string, code ErrorCode, err error, format string, args ...any) *PolicyError {
	return &PolicyError{Code: code, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the ErrorCode from err.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsInvalidParameter returns true if err carries ErrCodeInvalidParameter.
func IsInvalidParameter(err error) bool { return hasCode(err, ErrCodeInvalidParameter) }

// IsAlreadyExists returns true if err carries ErrCodeAlreadyExists.
func IsAlreadyExists(err error) bool { return hasCode(err, ErrCodeAlreadyExists) }

// IsAlreadyLocked returns true if err carries ErrCodeAlreadyLocked.
func IsAlreadyLocked(err error) bool { return hasCode(err, ErrCodeAlreadyLocked) }

// IsAccessDenied returns true if err carries ErrCodeAccessDenied.
func IsAccessDenied(err error) bool { return hasCode(err, ErrCodeAccessDenied) }

// IsWriteProtected returns true if err carries ErrCodeWriteProtected.
func IsWriteProtected(err error) bool { return hasCode(err, ErrCodeWriteProtected) }

// IsNotFound returns true if err carries ErrCodeNotFound.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsSecurityViolation returns true if err carries ErrCodeSecurityViolation.
func IsSecurityViolation(err error) bool { return hasCode(err, ErrCodeSecurityViolation) }

// IsUnsupported returns true if err carries ErrCodeUnsupported.
func IsUnsupported(err error) bool { return hasCode(err, ErrCodeUnsupported) }

// RequiredSize returns the size reported by a BufferTooSmall error.
func RequiredSize(err error) (int, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) && pe.Code == ErrCodeBufferTooSmall {
		return pe.Required, true
	}
	return 0, false
}
