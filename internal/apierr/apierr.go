// Package apierr defines siemgate's stable error taxonomy (spec §7) and the
// JSON envelope used to surface it to HTTP clients.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnknownField       Code = "UNKNOWN_FIELD"
	CodeInvalidOperator    Code = "INVALID_OPERATOR_TYPE"
	CodeBadRegex           Code = "BAD_REGEX"
	CodeBadCIDR            Code = "BAD_CIDR"
	CodeEmptyIn            Code = "EMPTY_IN"
	CodeAuth               Code = "AUTH_ERROR"
	CodeAuthorization      Code = "AUTHORIZATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeDatabaseError      Code = "DATABASE_ERROR"
	CodeStoreTransient     Code = "STORE_TRANSIENT"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// statusFor maps a Code to its HTTP-ish status, per spec §7's table.
var statusFor = map[Code]int{
	CodeValidation:         http.StatusBadRequest,
	CodeUnknownField:       http.StatusBadRequest,
	CodeInvalidOperator:    http.StatusBadRequest,
	CodeBadRegex:           http.StatusBadRequest,
	CodeBadCIDR:            http.StatusBadRequest,
	CodeEmptyIn:            http.StatusBadRequest,
	CodeAuth:               http.StatusUnauthorized,
	CodeAuthorization:      http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
	CodeRateLimited:        http.StatusTooManyRequests,
	CodeDatabaseError:      http.StatusInternalServerError,
	CodeStoreTransient:     http.StatusInternalServerError,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
}

// retryable marks which codes a caller may safely retry.
var retryable = map[Code]bool{
	CodeRateLimited:        true,
	CodeDatabaseError:      true,
	CodeStoreTransient:     true,
	CodeServiceUnavailable: true,
}

// Error is siemgate's structured error type. It implements the error
// interface and carries enough detail for the HTTP layer to render the
// standard {error:{code,message,status}} envelope.
type Error struct {
	Code        Code
	Message     string
	Field       string
	Suggestions []string
	RetryAfter  *int // seconds, set only for CodeRateLimited
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP-ish status code for this error's Code.
func (e *Error) Status() int {
	if s, ok := statusFor[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry the operation that
// produced this error.
func (e *Error) Retryable() bool {
	return retryable[e.Code]
}

// New constructs an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error with the given code and message, preserving the
// underlying cause for %w-style unwrapping and logging.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithRetryAfter returns a copy of e with RetryAfter set, for RATE_LIMITED
// responses that must include a Retry-After hint.
func (e *Error) WithRetryAfter(seconds int) *Error {
	ne := *e
	ne.RetryAfter = &seconds
	return &ne
}

// WithSuggestions returns a copy of e with field-level suggestions attached,
// for UNKNOWN_FIELD validation errors.
func (e *Error) WithSuggestions(field string, suggestions []string) *Error {
	ne := *e
	ne.Field = field
	ne.Suggestions = suggestions
	return &ne
}

// envelope is the wire shape of an error response body.
type envelope struct {
	Error detail `json:"error"`
}

type detail struct {
	Code        Code     `json:"code"`
	Message     string   `json:"message"`
	Status      int      `json:"status"`
	Field       string   `json:"field,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// MarshalJSON renders the standard {error:{code,message,status}} envelope.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Error: detail{
		Code:        e.Code,
		Message:     e.Message,
		Status:      e.Status(),
		Field:       e.Field,
		Suggestions: e.Suggestions,
	}})
}

// As reports whether err (or something it wraps) is an *Error, and if so
// returns it. Thin convenience wrapper around errors.As for call sites that
// only deal with this one error type.
func As(err error) (*Error, bool) {
	var target *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return target, false
}
