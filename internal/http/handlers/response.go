// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers shared by the JSON API. Errors use the
// envelope from middleware.AbortJSON so rejections produced by middleware and
// by handlers look the same to clients.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-archive-bot/internal/http/middleware"
)

// ErrorResponse documents the error envelope returned by the JSON API.
type ErrorResponse = middleware.ErrorEnvelope

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	middleware.AbortJSON(c, status, code, msg)
}

// Fail is the exported variant of fail() for router-level handlers such as
// NoRoute.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// raw writes a pre-encoded JSON body, used for stored replays.
func raw(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/json; charset=utf-8", body)
}
