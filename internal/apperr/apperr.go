// Package apperr defines the error taxonomy surfaced at the HTTP boundary.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the request boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindForbidden
	KindNotFound
	KindInvalidCode
	KindDownstreamSync
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindInvalidCode:
		return "invalid_code"
	case KindDownstreamSync:
		return "downstream_sync"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// Status maps the kind to an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindConflict, KindInvalidCode:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a client-facing message and the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinel-style checks such as
// errors.Is(err, apperr.ErrNotFound) work regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrAuth                = &Error{Kind: KindAuth}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidCode         = &Error{Kind: KindInvalidCode}
	ErrDownstreamSync      = &Error{Kind: KindDownstreamSync}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
)

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func Conflict(msg string) error { return &Error{Kind: KindConflict, Msg: msg} }

func Auth(msg string) error { return &Error{Kind: KindAuth, Msg: msg} }

func Forbidden(msg string) error { return &Error{Kind: KindForbidden, Msg: msg} }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

func InvalidCode(msg string) error { return &Error{Kind: KindInvalidCode, Msg: msg} }

func DownstreamSync(msg string, err error) error {
	return &Error{Kind: KindDownstreamSync, Msg: msg, Err: err}
}

func UpstreamUnavailable(msg string, err error) error {
	return &Error{Kind: KindUpstreamUnavailable, Msg: msg, Err: err}
}

func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Status returns the HTTP status for err.
func Status(err error) int {
	return KindOf(err).Status()
}

// Message returns the client-facing message for err. Internal causes are not exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.String()
	}
	return "internal server error"
}
