// Package errors carries typed error codes from the services to the HTTP and
// messaging edges, which map them to status codes and ack decisions.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeProvider      Code = "PROVIDER_REJECTED"
)

// Metadata describes how a code surfaces to callers. Retryable tells
// consumers whether redelivery could change the result.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func meta(status int, public string, retryable, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, Retryable: retryable, DetailsAllowed: details}
}

var catalog = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", false, true),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", false, false),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", false, false),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", false, false),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", false, false),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", false, true),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", false, true),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", false, false),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", true, false),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", true, true),
	CodeProvider:      meta(http.StatusBadGateway, "payout provider rejected the request", false, true),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if m, ok := catalog[code]; ok {
		return m
	}
	return catalog[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches a client-safe payload; it is only rendered for codes
// whose metadata allows details.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost typed error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// IsRetryable reports whether retrying could succeed. Untyped errors are
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	typed := As(err)
	if typed == nil {
		return true
	}
	return MetadataFor(typed.code).Retryable
}
