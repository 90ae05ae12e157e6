// ABOUTME: Error kinds returned by dialogue handlers and their mapping from package errors
// ABOUTME: Every Error carries the reply text shown to the user; the cause is only logged

package conversation

import (
	"context"
	"errors"

	"github.com/2389/rollcall-gateway/internal/backend"
)

// Kind classifies a handler failure. Every kind is recoverable: the user
// gets a reply and the session stays usable.
type Kind string

const (
	// ValidationError is bad input: a malformed login, an out of range
	// selection, an empty or oversized topic, no roll numbers.
	ValidationError Kind = "validation"
	// AuthError is a refused login: bad credentials, wrong role, throttled,
	// locked out, or a backend token that is no longer accepted.
	AuthError Kind = "auth"
	// BackendUnavailable means the attendance service failed after retries.
	BackendUnavailable Kind = "backend_unavailable"
	// NotFoundError is an empty list where the user expected choices.
	NotFoundError Kind = "not_found"
	// InternalError is a broken invariant. It should never reach users.
	InternalError Kind = "internal"
)

// Error is a handler failure. Message is the reply text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func validation(message string) *Error {
	return &Error{Kind: ValidationError, Message: message}
}

func notFound(message string) *Error {
	return &Error{Kind: NotFoundError, Message: message}
}

func internal(err error) *Error {
	return &Error{Kind: InternalError, Message: replyGenericError, Err: err}
}

// backendFailure wraps an error from the backend Client. A rejected token
// is an AuthError so the dispatcher can send the user back to login.
func backendFailure(err error, message string) *Error {
	if errors.Is(err, backend.ErrUnauthorized) {
		return &Error{Kind: AuthError, Message: replySessionExpired, Err: err}
	}
	return &Error{Kind: BackendUnavailable, Message: message, Err: err}
}

// KindOf returns the Kind of err, InternalError for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// tokenRejected reports whether err means the backend token is no longer valid.
func tokenRejected(err error) bool {
	return errors.Is(err, backend.ErrUnauthorized)
}

func timedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
