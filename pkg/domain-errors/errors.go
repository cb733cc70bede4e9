// Package domainerrors provides coded errors shared by services, stores and
// the HTTP layer. Codes are stable identifiers; messages are for humans.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain failure.
type Code string

const (
	CodeValidation             Code = "validation_error"
	CodeNotFound               Code = "not_found"
	CodeIdempotencyConflict    Code = "idempotency_conflict"
	CodeIdempotencyInProgress  Code = "idempotency_in_progress"
	CodeCancellationNotAllowed Code = "cancellation_not_allowed"
	CodeTechnicalFailure       Code = "technical_failure"
	CodeTimeout                Code = "timeout"
	CodeInternal               Code = "internal_error"
)

// Error carries a code plus a human-readable message, optionally wrapping a
// lower-level cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
