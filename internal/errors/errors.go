package errors

import (
	stderrors "errors"
	"fmt"
)

// Machine-readable error codes. Each maps to exactly one HTTP status at the
// handler boundary, so the consuming UI can tell "you're not the approver"
// apart from "someone else already finished this".
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeInvalidWorkflow = "INVALID_WORKFLOW"
	ErrCodeAlreadyTerminal = "ALREADY_TERMINAL"
	ErrCodeVersionConflict = "VERSION_CONFLICT"
	ErrCodeInternal        = "INTERNAL"
)

// Error is a caller-facing error with a stable code and human-readable message.
type Error struct {
	Code    string
	Message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error with a code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a malformed or missing field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// Unauthorized reports a missing or unusable actor identity.
func Unauthorized(message string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Message: message}
}

// Forbidden reports an actor acting outside their authority.
func Forbidden(message string) *Error {
	return &Error{Code: ErrCodeForbidden, Message: message}
}

// Conflict reports a state conflict.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// InvalidWorkflow reports a malformed step list or missing workflow fields.
func InvalidWorkflow(message string) *Error {
	return &Error{Code: ErrCodeInvalidWorkflow, Message: message}
}

// AlreadyTerminal reports a transition attempted on a finished request.
func AlreadyTerminal(id string) *Error {
	return &Error{Code: ErrCodeAlreadyTerminal, Message: fmt.Sprintf("approval request %q is already finalized", id)}
}

// VersionConflict reports a lost-update race on an aggregate.
func VersionConflict(resource, id string) *Error {
	return &Error{Code: ErrCodeVersionConflict, Message: fmt.Sprintf("%s %q was modified concurrently", resource, id)}
}

// CodeOf returns the machine code carried by err, or ErrCodeInternal when
// err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MessageOf returns the caller-facing message for err. Non-coded errors get a
// generic message so internals never leak to clients.
func MessageOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}
