package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Auth error codes returned in the error envelope.
const (
	CodeTokenRequired = "token-required"
	CodeInvalidToken  = "invalid-token"
)

// callerKey marks requests authenticated by BearerAuth.
const callerKey = "caller"

// BearerAuth requires "Authorization: Bearer <token>" matching token. An
// empty configured token rejects every request.
func BearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		h := strings.TrimSpace(c.GetHeader("Authorization"))
		if h == "" {
			AbortJSON(c, http.StatusUnauthorized, CodeTokenRequired, "bearer token required")
			return
		}
		scheme, got, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(got) == "" {
			AbortJSON(c, http.StatusUnauthorized, CodeTokenRequired, "bearer token required")
			return
		}
		if len(want) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			AbortJSON(c, http.StatusUnauthorized, CodeInvalidToken, "invalid token")
			return
		}
		c.Set(callerKey, "api")
		c.Next()
	}
}

// Caller returns the authenticated caller identity, if any.
func Caller(c *gin.Context) string {
	v, _ := c.Get(callerKey)
	return asString(v)
}
