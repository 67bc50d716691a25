// Package simerr provides the coded error type used by the population engine.
//
// Policy outcomes (no placement candidate, rejected admission) are never
// reported through this package; they are plain booleans. An *Error always
// means a caller broke a contract or the environment failed.
package simerr

import "errors"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// CodePrecondition marks a contract violation: placing into an occupied
	// slot, vacating an empty one, addressing a group that does not exist.
	CodePrecondition Code = "PRECONDITION"

	// CodeIdle is returned by schedulers when no entry has positive weight.
	CodeIdle Code = "IDLE"

	// CodeInvalidConfig marks a configuration that failed validation.
	CodeInvalidConfig Code = "INVALID_CONFIG"

	// CodeStorage marks a failure in a snapshot backend.
	CodeStorage Code = "STORAGE"
)

// Error is the engine error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context (slot, group, ...)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates an error carrying key/value context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrPrecondition  = New(CodePrecondition, "precondition violated")
	ErrIdle          = New(CodeIdle, "no schedulable organism")
	ErrInvalidConfig = New(CodeInvalidConfig, "invalid configuration")
	ErrStorage       = New(CodeStorage, "storage failure")
)

// GetCode extracts the code from an error chain, or CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsPrecondition reports whether err is a contract violation.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}
