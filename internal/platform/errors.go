package platform

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the normalized failure category every adapter maps its errors to.
type Kind string

const (
	StructuralPrecondition  Kind = "StructuralPrecondition"
	CredentialInvalid       Kind = "CredentialInvalid"
	CredentialRefreshFailed Kind = "CredentialRefreshFailed"
	TokenExpired            Kind = "TokenExpired"
	PermissionDenied        Kind = "PermissionDenied"
	RateLimited             Kind = "RateLimited"
	InvalidParameter        Kind = "InvalidParameter"
	PlatformServerError     Kind = "PlatformServerError"
	Timeout                 Kind = "Timeout"
	Unknown                 Kind = "Unknown"
)

var labels = map[Kind]string{
	StructuralPrecondition:  "not publishable",
	CredentialInvalid:       "credential invalid",
	CredentialRefreshFailed: "credential refresh failed",
	TokenExpired:            "token expired",
	PermissionDenied:        "permission denied",
	RateLimited:             "rate limited",
	InvalidParameter:        "invalid parameter",
	PlatformServerError:     "platform error",
	Timeout:                 "timed out",
	Unknown:                 "unknown error",
}

func (k Kind) Label() string {
	if l, ok := labels[k]; ok {
		return l
	}
	return labels[Unknown]
}

// Retryable reports whether a fresh invocation could plausibly succeed
// without operator action.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, PlatformServerError, Timeout, Unknown:
		return true
	default:
		return false
	}
}

// Error is a classified adapter failure.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return e.Kind.Label() + ": " + e.Message
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf maps any error to a Kind. Errors that were never classified are
// Unknown, except context deadlines which are Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Unknown
}

// AsError converts err into a classified *Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindOf(err), Message: err.Error()}
}

// Result is what every adapter call returns: either a value or a
// classified error, never a raw transport error.
type Result[T any] struct {
	Value T
	Err   *Error
}

func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Fail[T any](kind Kind, format string, args ...any) Result[T] {
	return Result[T]{Err: Errorf(kind, format, args...)}
}

func (r Result[T]) Ok() bool {
	return r.Err == nil
}
