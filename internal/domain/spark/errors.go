// internal/domain/spark/errors.go

package spark

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes domain failures so callers can map them to responses
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
	KindConflict   ErrorKind = "conflict"
	KindValidation ErrorKind = "validation"
)

// Sentinels for errors.Is matching against an *Error of the same kind
var (
	ErrNotFound   = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden  = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrConflict   = &Error{Kind: KindConflict, Message: "conflict"}
	ErrValidation = &Error{Kind: KindValidation, Message: "validation failed"}
)

// Error is a categorized domain error
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NotFound builds a not-found error
func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden builds a forbidden error
func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict error
func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation wraps cause as a validation error
func Validation(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or "" when err is not a domain error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
