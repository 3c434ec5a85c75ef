// Package apperr defines the error taxonomy shared by the collaboration services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to render or map it.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindForbidden        Kind = "forbidden"
	KindInvalidOperation Kind = "invalid_operation"
	// KindUnavailable marks transient infrastructure failures; the user may retry.
	KindUnavailable Kind = "unavailable"
)

// Kind-level sentinels. errors.Is(err, apperr.Forbidden) matches every forbidden error.
var (
	InvalidInput     = &Error{kind: KindInvalidInput}
	NotFound         = &Error{kind: KindNotFound}
	Conflict         = &Error{kind: KindConflict}
	Forbidden        = &Error{kind: KindForbidden}
	InvalidOperation = &Error{kind: KindInvalidOperation}
	Unavailable      = &Error{kind: KindUnavailable}
)

// Error carries a kind, a stable machine code and a user-facing message.
type Error struct {
	kind    Kind
	code    string
	message string
	cause   error
}

// New constructs an error without an underlying cause.
func New(kind Kind, code, message string) *Error {
	return &Error{kind: kind, code: code, message: message}
}

// Wrap constructs an error around an underlying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{kind: kind, code: code, message: message, cause: cause}
}

func (e *Error) Error() string {
	label := e.code
	if label == "" {
		label = string(e.kind)
	}
	if e.message != "" {
		label = fmt.Sprintf("%s: %s", label, e.message)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", label, e.cause)
	}
	return label
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches kind sentinels by kind and coded errors by code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok || other == nil {
		return false
	}
	if other.code == "" {
		return other.kind == e.kind
	}
	return other.code == e.code
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Message() string {
	return e.message
}

// KindOf reports the kind of the first *Error in the chain, or "" when there is none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return ""
}

// ErrMalformedRecord marks a stored row that failed validation at the repository boundary.
var ErrMalformedRecord = errors.New("malformed record")

// Unavailablef wraps a store failure as a retryable error.
func Unavailablef(code string, cause error) *Error {
	return Wrap(KindUnavailable, code, "temporarily unavailable, please retry", cause)
}

// Malformed reports a record that could not be converted into a domain value.
func Malformed(code, detail string) *Error {
	return Unavailablef(code, fmt.Errorf("%w: %s", ErrMalformedRecord, detail))
}
