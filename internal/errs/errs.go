// Package errs defines the domain error taxonomy. Every error that escapes a
// handler is one of these kinds; anything else is treated as internal.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and user display.
type Kind int

const (
	// KindAuth covers bad credentials, unauthorized domains and failed
	// popup/redirect sign-in flows.
	KindAuth Kind = iota + 1
	// KindValidation covers missing or malformed input, and AI extraction
	// returning nothing when a paper's marks could not be read.
	KindValidation
	// KindConflict covers duplicate accounts.
	KindConflict
	// KindTransport covers unreachable or malformed upstream responses
	// (database, AI endpoint).
	KindTransport
	// KindTimeout covers the OAuth redirect exceeding its fixed wait.
	KindTimeout
)

// Error is a user-displayable domain error. Msg is shown to the user as-is;
// Err carries the wrapped cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Auth builds a KindAuth error.
func Auth(msg string) *Error { return &Error{Kind: KindAuth, Msg: msg} }

// Validation builds a KindValidation error.
func Validation(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }

// Conflict builds a KindConflict error.
func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Msg: msg} }

// Transport builds a KindTransport error wrapping its cause.
func Transport(msg string, err error) *Error {
	return &Error{Kind: KindTransport, Msg: msg, Err: err}
}

// Timeout builds a KindTimeout error.
func Timeout(msg string) *Error { return &Error{Kind: KindTimeout, Msg: msg} }

// KindOf returns the kind of err, or 0 when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// UserMessage returns the displayable message for err. Internal errors get a
// generic message so upstream details never leak to the client.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "An unexpected error occurred."
}

// HTTPStatus maps an error kind to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
