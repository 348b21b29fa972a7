package errtax

import (
	"errors"
	"fmt"
)

// Error is the module's structured error type.
//
// Code is an optional, stable machine-readable identifier narrower than
// Kind (e.g. "IDENTITY-TRANSITIONAL-NOQUORUM") for callers that need more
// precision than the Kind taxonomy alone. Message is for humans; do not
// match on it.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New constructs an *Error with no cause.
func New(kind Kind, code, msg string) error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap constructs an *Error carrying cause. If cause is nil, Wrap behaves
// like New.
func Wrap(kind Kind, code, msg string, cause error) error {
	if cause == nil {
		return New(kind, code, msg)
	}
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

// Is reports whether err is (or wraps) an *Error with the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// CodeOf returns the stable Code for a structured error, or "" if unknown.
func CodeOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}
