// Package handlers defines HTTP-layer error codes used by the JSON API.
//
// Archive failures carry domain.ErrorCode values ("duplicated-url",
// "failed-get-ogp", ...) straight through to the envelope. The codes below
// cover transport-level failures that have no domain equivalent.
//
// Example response:
//
//	{
//	  "error": {
//	    "code": "duplicated-url",
//	    "message": "このURLは既に登録されています。",
//	    "request_id": "0192b7c4-2f5e-7d2a-9b1e-6c8f1a2b3c4d"
//	  }
//	}
package handlers

import (
	"net/http"

	"github.com/tbourn/go-archive-bot/internal/domain"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	ErrCodeListFailed       = "list_failed"
)

// statusFor maps a domain failure to the HTTP status of the JSON API.
// Caller mistakes are 400; upstream and internal failures are 500.
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeUnsupportedURL,
		domain.CodeDuplicatedURL,
		domain.CodeMissingRequiredField,
		domain.CodeInvalidURL,
		domain.CodeBadRequest:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden, domain.CodeChannelNotAllowed:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
