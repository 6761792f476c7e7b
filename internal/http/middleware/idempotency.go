// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for the direct API. The
// validator checks the header, looks up a stored response for the key and
// annotates the request context so that:
//   - handlers can read the key (GetIdempotencyKey) and serve a stored
//     response (StoredResponse)
//   - the rate limiter skips replays (IsRateBypass)
//
// Persistence stays behind the IdempotencyLookup function type.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // Stored: previously produced response
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// Stored is a previously produced response.
type Stored struct {
	Status int
	Body   []byte
}

// IdempotencyLookup returns the stored response for key, or nil when there
// is none. Lookup errors do not block the request.
type IdempotencyLookup func(ctx context.Context, key string, now time.Time) (*Stored, error)

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// StoredResponse returns the stored response found for this request's key.
func StoredResponse(c *gin.Context) (*Stored, bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return nil, false
	}
	s, _ := v.(*Stored)
	return s, s != nil
}

// IsReplay reports whether a stored response exists for this request.
func IsReplay(c *gin.Context) bool {
	_, ok := StoredResponse(c)
	return ok
}

// IdempotencyValidator validates the Idempotency-Key header when present.
// An invalid key gets 400; a key with a stored response marks the request
// as a replay and as exempt from rate limiting.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			AbortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			st, err := lookup(c.Request.Context(), key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			} else if st != nil {
				c.Set(ctxKeyIdemReplay, st)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
