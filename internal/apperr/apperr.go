// Package apperr carries the error taxonomy shared by every component:
// a stable machine-readable code plus a kind that maps to an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindNotFound Kind = iota
	KindForbidden
	KindInvalidInput
	KindConflict
	KindPreconditionRequired
	KindRateLimited
	KindUpstreamFailure
	KindInternal
	KindUnauthorized
	KindGone
)

type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func NotFound(code string) *Error     { return New(KindNotFound, code) }
func Forbidden(code string) *Error    { return New(KindForbidden, code) }
func Invalid(code string) *Error      { return New(KindInvalidInput, code) }
func Conflict(code string) *Error     { return New(KindConflict, code) }
func Precondition(code string) *Error { return New(KindPreconditionRequired, code) }
func RateLimited(code string) *Error  { return New(KindRateLimited, code) }
func Upstream(code string, err error) *Error {
	return Wrap(KindUpstreamFailure, code, err)
}
func Internal(err error) *Error {
	return Wrap(KindInternal, "SERVER_ERROR", err)
}
func Unauthorized(code string) *Error { return New(KindUnauthorized, code) }
func Gone(code string) *Error         { return New(KindGone, code) }

// Code extracts the stable code for any error; unexpected errors collapse
// to SERVER_ERROR so internals never leak to clients.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "SERVER_ERROR"
}

// Status maps an error to its HTTP status.
func Status(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindPreconditionRequired:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamFailure:
		return http.StatusBadGateway
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindGone:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
