package engines

import (
	"errors"
	"net/http"
)

var (
	// ErrNotInstalled is wrapped by a Backend when the engine's underlying
	// library (or model server image) is absent.
	ErrNotInstalled = errors.New("not installed")

	// ErrParamRejected is wrapped by a Backend when construction failed
	// because one of the supplied parameters is unknown to the installed
	// library version.
	ErrParamRejected = errors.New("parameter rejected")
)

// kindError carries its own message while matching a sentinel with
// errors.Is.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// NotInstalledError returns an error with message msg that matches
// ErrNotInstalled.
func NotInstalledError(msg string) error {
	return &kindError{msg: msg, kind: ErrNotInstalled}
}

// ParamRejectedError returns an error with message msg that matches
// ErrParamRejected.
func ParamRejectedError(msg string) error {
	return &kindError{msg: msg, kind: ErrParamRejected}
}

// RequestErrorKind classifies structural request errors.
type RequestErrorKind string

const (
	KindInvalidEngine   RequestErrorKind = "invalid_engine"
	KindUnsupportedFile RequestErrorKind = "unsupported_file"
	KindBatchTooLarge   RequestErrorKind = "batch_too_large"
	KindNoEngines       RequestErrorKind = "no_engines"
	KindInvalidInput    RequestErrorKind = "invalid_input"
)

// RequestError is a structural error detected before any engine runs.
type RequestError struct {
	Kind    RequestErrorKind
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// HTTPStatus maps the error kind to a response status code.
func (e *RequestError) HTTPStatus() int {
	if e.Kind == KindNoEngines {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// NewRequestError creates a structural error of the given kind.
func NewRequestError(kind RequestErrorKind, msg string) *RequestError {
	return &RequestError{Kind: kind, Message: msg}
}

// AsRequestError extracts a *RequestError from err's chain.
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
