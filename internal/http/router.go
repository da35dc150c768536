// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, compression,
// CORS, security headers, correlation cookies, and edge throttling.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/giftghost/go-insight-backend/internal/config"
	"github.com/giftghost/go-insight-backend/internal/http/handlers"
	"github.com/giftghost/go-insight-backend/internal/http/middleware"
	"github.com/giftghost/go-insight-backend/internal/ratelimit"
	"github.com/giftghost/go-insight-backend/internal/repo"
	"github.com/giftghost/go-insight-backend/internal/services"
	"github.com/giftghost/go-insight-backend/internal/track"
)

// counterStoreShim adapts the repository free functions to the
// ratelimit.CounterStore interface expected by the Limiter. This keeps the
// limiter decoupled from the concrete repo package while reusing existing
// functions.
type counterStoreShim struct {
	db *gorm.DB
}

// Count proxies repo.CounterCount.
func (s counterStoreShim) Count(ctx context.Context, key, day string) (int, bool, error) {
	return repo.CounterCount(ctx, s.db, key, day)
}

// Increment proxies repo.IncrementCounter.
func (s counterStoreShim) Increment(ctx context.Context, key, day string, limit int) (int, bool, error) {
	return repo.IncrementCounter(ctx, s.db, key, day, limit)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), correlation
// cookies, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Correlation cookies: session/anonymous ids for identity and analytics
//  4. Logger: structured access logs (carries the cookie ids)
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics + gzip
//  8. CORS and security headers
//
// The edge throttle guards only the ingestion endpoints; the daily generation
// quota is enforced inside the insight service, not here.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, tracker *track.Tracker, completion services.Completion, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Session/anonymous correlation cookies (before logging so access logs
	//    carry the ids)
	r.Use(middleware.CorrelationCookies(cfg.Cookies))

	// 4) Structured logging
	r.Use(middleware.Logger())

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics, /metrics endpoint, response compression
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps
		// tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in
		// addition to gin-contrib/cors).
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
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
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

	// Dependency injection: services ← repo/db/tracker/completion
	limiter := ratelimit.New(cfg.Quota, counterStoreShim{db: db}, loggerFor("ratelimit"))
	sessionSvc := &services.SessionService{
		DB:      db,
		Tracker: tracker,
		Log:     loggerFor("sessions"),
	}
	insightSvc := &services.InsightService{
		Limiter:    limiter,
		Sessions:   sessionSvc,
		Completion: completion,
		Log:        loggerFor("insights"),
		MinDelay:   cfg.MinDelay,
	}
	trackSvc := &services.TrackService{DB: db, Log: loggerFor("track")}
	h := handlers.New(insightSvc, sessionSvc, trackSvc, cfg.Cookies)

	// Edge throttle for the high-volume ingestion endpoint only.
	throttle := middleware.NewThrottle(cfg.TrackRPS, cfg.TrackBurst, middleware.KeyByAnonymousOrIP())

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Insights
		api.POST("/insights", h.GenerateInsight)
		api.GET("/insights/quota", h.GetQuota)

		// Traces & feedback
		api.GET("/traces/:id", h.GetTrace)
		api.POST("/traces/:id/feedback", h.LeaveFeedback)
		api.GET("/sessions", h.ListSessions)

		// Tracking
		api.POST("/track", throttle.Handler(), h.IngestEvents)
		api.GET("/track", h.DescribeTracking)
	}
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

// loggerFor returns the process logger tagged with a component name.
func loggerFor(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
