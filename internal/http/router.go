// Package httpapi mounts the archive bot on a Gin engine: the signed
// interactions webhook, the bearer-protected archive API, health and
// metrics, plus the shared middleware stack in front of them.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-archive-bot/internal/config"
	"github.com/tbourn/go-archive-bot/internal/http/handlers"
	"github.com/tbourn/go-archive-bot/internal/http/middleware"
	"github.com/tbourn/go-archive-bot/internal/services"
)

// Deps carries the collaborators RegisterRoutes wires into handlers.
type Deps struct {
	DB       *gorm.DB
	Resolver services.Resolver
	Alerter  handlers.Alerter
	Editor   handlers.ResponseEditor
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the interaction webhook and the versioned archive API. The returned
// Handlers must be drained with Wait during shutdown.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// The API group adds gzip, bearer auth, the idempotency validator and the
// rate limiter, in that order, so replays bypass the limiter and limits are
// keyed by the authenticated caller. /interactions is authenticated by its
// signature and is not rate limited.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) *handlers.Handlers {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		// Keys are bearer-like: anyone holding one can read the stored reply.
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		EnablePolicy:    true,
		NoStorePrefixes: []string{"/interactions"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/resolver
	archiveSvc := services.NewArchiveService(deps.DB, deps.Resolver)
	h := handlers.New(handlers.Options{
		DB:                deps.DB,
		Archiver:          archiveSvc,
		Alerter:           deps.Alerter,
		Editor:            deps.Editor,
		PublicKey:         cfg.Discord.PublicKey,
		AllowedChannels:   cfg.Discord.AllowedChannels(),
		DeferLinkCommands: cfg.Discord.DeferLinkCommands,
		DefaultLocale:     cfg.DefaultLocale,
		ReplayTTL:         cfg.IdempotencyTTL,
		FollowupTimeout:   2 * cfg.OGP.Timeout,
	})

	// Chat-platform webhook
	r.POST("/interactions", h.Interactions)

	// Public API
	rl := middleware.NewRateLimiter(middleware.RateLimitOptions{
		RPS:   cfg.RateRPS,
		Burst: cfg.RateBurst,
		Key:   middleware.KeyByCallerOrIP(),
		Cost:  middleware.SubmissionCost(2),
	})
	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"
	api.Use(
		gzip.Gzip(gzip.DefaultCompression),
		middleware.BearerAuth(cfg.APIBearerToken),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, h.APIReplayLookup()),
		rl.Handler(),
	)
	{
		api.POST("/archives/videos", h.ArchiveVideo)
		api.GET("/archives/videos", h.ListVideos)
		api.GET("/archives/challenges", h.ListChallenges)
	}
	return h
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
