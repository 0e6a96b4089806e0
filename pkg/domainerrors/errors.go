// Package domainerrors provides coded errors for the service layer.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel);
// services translate them into coded domain errors so transports can map
// codes to protocol-level responses without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for boundary translation.
type Code string

const (
	// CodeBadRequest covers malformed requests that never reached domain
	// validation (bad JSON, missing required parameters).
	CodeBadRequest Code = "bad_request"

	// CodeInvalidInput covers values that failed domain-primitive parsing.
	CodeInvalidInput Code = "invalid_input"

	// CodeValidation covers structurally valid requests that violate a
	// constraint (disallowed sort field, oversized page).
	CodeValidation Code = "validation_failed"

	// CodeNotFound means the referenced entity does not exist.
	CodeNotFound Code = "not_found"

	// CodeConflict means the request conflicts with current state.
	CodeConflict Code = "conflict"

	// CodeForbidden means the caller's scope does not permit the operation.
	// Scope violations are reported with this code, never as empty results.
	CodeForbidden Code = "forbidden"

	// CodeUnauthorized means the caller is not authenticated.
	CodeUnauthorized Code = "unauthorized"

	// CodeInternal covers unexpected infrastructure failures.
	CodeInternal Code = "internal_error"

	// CodeInvariantViolation means a domain invariant would be broken.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeTimeout means the operation exceeded its deadline.
	CodeTimeout Code = "timeout"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	code    Code
	message string
	cause   error
}

// New creates a coded error with a caller-facing message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

// Code returns the error's classification.
func (e *Error) Code() Code { return e.code }

// Message returns the caller-facing message without the cause chain.
func (e *Error) Message() string { return e.message }

func (e *Error) Unwrap() error { return e.cause }

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.code == code {
			return true
		}
		err = de.cause
	}
	return false
}

// CodeOf returns the code of the outermost coded error, or CodeInternal
// when err carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}
