// Package errs defines the boundary error taxonomy returned by core
// operations. Every surfaced error carries a stable machine-readable code,
// a human message, and optional details.
package errs

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/wayfarer/internal/core"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeInvalidRequest  Code = "invalid_request"
	CodeLimitExceeded   Code = "limit_exceeded"
	CodeUnauthorized    Code = "unauthorized"
	CodeCancelled       Code = "cancelled"
	CodeAuthRequired    Code = Code(core.FailureAuthRequired)
	CodeWrongEndpoint   Code = Code(core.FailureWrongEndpoint)
	CodeRateLimited     Code = Code(core.FailureRateLimited)
	CodeServerError     Code = Code(core.FailureServerError)
	CodeTimeout         Code = Code(core.FailureTimeout)
	CodeNetworkError    Code = Code(core.FailureNetworkError)
	CodeParseError      Code = Code(core.FailureParseError)
	CodeValidationFail  Code = Code(core.FailureValidationFail)
	CodeContentTooShort Code = Code(core.FailureContentTooShort)
	CodeUnknown         Code = Code(core.FailureUnknown)
)

// Error is the single error type returned across core operations.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails attaches details and returns the same Error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// InvalidRequest builds an invalid_request error, optionally tagging a
// validator-style sub-category (e.g. "protocol", "private_ip") in details.
func InvalidRequest(message string, category string) *Error {
	err := New(CodeInvalidRequest, message)
	if category != "" {
		err.Details = map[string]any{"category": category}
	}
	return err
}

// LimitExceeded builds a limit_exceeded error.
func LimitExceeded(message string) *Error {
	return New(CodeLimitExceeded, message)
}

// Cancelled builds a cancelled error.
func Cancelled() *Error {
	return New(CodeCancelled, "operation cancelled")
}

// FromFailureCategory converts a classified FailureCategory into an Error,
// typically used once retries are exhausted and the failure must surface.
func FromFailureCategory(cat core.FailureCategory, message string) *Error {
	return New(Code(cat), message)
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
