// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the in-memory token-bucket limiter that guards the
// archive API. Buckets are per caller (see KeyByCallerOrIP). Submissions
// cost more than listings because each one triggers an outbound metadata
// lookup. Idempotent replays flagged by IdempotencyValidator skip the
// limiter entirely.
//
// The limiter is process-local. The interactions endpoint is not limited
// because the chat platform retries and rate limits on its side.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	},
	[]string{"path"},
)

func init() {
	prometheus.MustRegister(rateLimited)
}

// keyFunc selects the bucket a request draws from.
type keyFunc func(*gin.Context) string

// costFunc returns how many tokens a request consumes.
type costFunc func(*gin.Context) int

// KeyByCallerOrIP prefers the caller set by BearerAuth and falls back to the
// client IP. Keys are prefixed ("caller:api:...", "ip:...") so the two
// namespaces never collide.
func KeyByCallerOrIP() keyFunc {
	return func(c *gin.Context) string {
		if s := Caller(c); s != "" {
			return "caller:" + s + ":" + c.ClientIP()
		}
		return "ip:" + c.ClientIP()
	}
}

// SubmissionCost charges n tokens for POST requests and one for the rest.
func SubmissionCost(n int) costFunc {
	if n < 1 {
		n = 1
	}
	return func(c *gin.Context) int {
		if c.Request.Method == http.MethodPost {
			return n
		}
		return 1
	}
}

// RateLimitOptions configures NewRateLimiter. Zero values fall back to
// burst 1, one token per request, IP keys and a 10 minute idle TTL.
type RateLimitOptions struct {
	RPS     float64
	Burst   int
	Key     keyFunc
	Cost    costFunc
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	opts RateLimitOptions
	now  func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter builds a limiter; install it with Handler.
func NewRateLimiter(opts RateLimitOptions) *RateLimiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Key == nil {
		opts.Key = func(c *gin.Context) string { return "ip:" + c.ClientIP() }
	}
	if opts.Cost == nil {
		opts.Cost = func(*gin.Context) int { return 1 }
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		opts:      opts,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// limiterFor returns the bucket for key, creating it on first use. Buckets
// idle for IdleTTL are swept at most once per IdleTTL, before the lookup so
// a stale bucket is replaced rather than refreshed.
func (rl *RateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.opts.IdleTTL {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.opts.IdleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.opts.RPS), rl.opts.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// size reports the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator marked this request as
// a replay that must not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Get(ctxKeyRateBypass)
	v, _ := b.(bool)
	return v
}

// Handler enforces the limits. Rejections are 429 with the standard error
// envelope (code "rate_limited") and a Retry-After in whole seconds taken
// from the bucket's refill time.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		lim := rl.limiterFor(rl.opts.Key(c), now)
		cost := rl.opts.Cost(c)
		if cost > rl.opts.Burst {
			cost = rl.opts.Burst
		}

		res := lim.ReserveN(now, cost)
		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.CancelAt(now)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		rateLimited.WithLabelValues(path).Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
		AbortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}

// retryAfterSeconds rounds d up to whole seconds, never below one. An
// infinite delay (rps 0) is reported as one minute.
func retryAfterSeconds(d time.Duration) int {
	if d == rate.InfDuration || d < 0 {
		return 60
	}
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
