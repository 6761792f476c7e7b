package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of failure codes surfaced to callers. The
// string values are stable and appear in API responses and logs.
type ErrorCode string

const (
	CodeUnsupportedURL       ErrorCode = "unsupported-url"
	CodeDuplicatedURL        ErrorCode = "duplicated-url"
	CodeFailedGetOGP         ErrorCode = "failed-get-ogp"
	CodeMissingRequiredField ErrorCode = "missing_required_field"
	CodeInvalidURL           ErrorCode = "invalid_url"
	CodeUnauthorized         ErrorCode = "unauthorized"
	CodeForbidden            ErrorCode = "forbidden"
	CodeChannelNotAllowed    ErrorCode = "channel_not_allowed"
	CodeBadRequest           ErrorCode = "bad_request"
	CodeUnexpected           ErrorCode = "unexpected"
)

// Codes lists every ErrorCode.
var Codes = []ErrorCode{
	CodeUnsupportedURL,
	CodeDuplicatedURL,
	CodeFailedGetOGP,
	CodeMissingRequiredField,
	CodeInvalidURL,
	CodeUnauthorized,
	CodeForbidden,
	CodeChannelNotAllowed,
	CodeBadRequest,
	CodeUnexpected,
}

// Severe reports whether failures with this code warrant an operator alert.
// Only upstream metadata failures and unexpected errors qualify.
func (c ErrorCode) Severe() bool {
	return c == CodeFailedGetOGP || c == CodeUnexpected
}

// Error is the typed failure value propagated from validation, resolution and
// persistence. Detail keeps the underlying cause for diagnostics.
type Error struct {
	Code    ErrorCode
	Message string
	Detail  error
}

// NewError builds an Error without an underlying cause.
func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WrapError builds an Error around cause.
func WrapError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Detail: cause}
}

func (e *Error) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Detail }

// Is matches any *Error carrying the same code, so sentinel values below can
// be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnsupportedURL       = NewError(CodeUnsupportedURL, "unsupported url")
	ErrDuplicatedURL        = NewError(CodeDuplicatedURL, "url already archived")
	ErrFailedGetOGP         = NewError(CodeFailedGetOGP, "failed to resolve metadata")
	ErrMissingRequiredField = NewError(CodeMissingRequiredField, "missing required field")
	ErrInvalidURL           = NewError(CodeInvalidURL, "invalid url")
	ErrUnexpected           = NewError(CodeUnexpected, "unexpected error")
)

// CodeOf returns the code carried by err. Errors that are not *Error map to
// CodeUnexpected; a nil error has no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpected
}
