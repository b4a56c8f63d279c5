// Package errdefs defines the error kinds shared by the Beacon orchestrator and
// its transports. Components return *Error values carrying a Kind; the API layer
// maps kinds to HTTP status codes so the orchestrator stays transport-agnostic.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers
type Kind int

const (
	// Internal is any unexpected failure (store I/O, encoding)
	Internal Kind = iota
	// Invalid covers bad input and illegal state transitions
	Invalid
	// NotFound means the named entity does not exist
	NotFound
	// Conflict means the entity is locked or already exists
	Conflict
	// Forbidden means the authorization validator rejected the request
	Forbidden
	// Upstream means a collaborator (peer Beacon, scheduler) failed
	Upstream
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "INVALID"
	case NotFound:
		return "NOT_FOUND"
	case Conflict:
		return "CONFLICT"
	case Forbidden:
		return "FORBIDDEN"
	case Upstream:
		return "UPSTREAM"
	default:
		return "INTERNAL"
	}
}

// Error is a classified error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error
func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Invalidf(format string, args ...interface{}) *Error {
	return New(Invalid, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, format, args...)
}

func Conflictf(format string, args ...interface{}) *Error {
	return New(Conflict, format, args...)
}

func Forbiddenf(format string, args ...interface{}) *Error {
	return New(Forbidden, format, args...)
}

func Upstreamf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, Upstream, format, args...)
}

// KindOf returns the kind of the first classified error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code returned by the REST API
func HTTPStatus(kind Kind) int {
	switch kind {
	case Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Forbidden:
		return http.StatusForbidden
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
