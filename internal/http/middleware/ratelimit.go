// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a lightweight, in-memory, token-bucket throttle used to
// protect the high-volume event-ingestion endpoint. It is separate from the
// persisted daily generation quota (internal/ratelimit): this one guards
// against bursty or abusive clients at the edge, per identity, with
// opportunistic garbage collection of idle buckets.
//
// The throttle is process-local. For horizontally scaled deployments a
// distributed limiter would be needed to enforce global limits.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a throttle bucket. Implementations
// return a stable string per caller, e.g. "aid:<anonymous-id>" or "ip:<addr>".
type keyFunc func(*gin.Context) string

// KeyByAnonymousOrIP returns a keyFunc that prefers the caller's anonymous-id
// correlation cookie and falls back to the client IP. The prefixes keep the
// two namespaces from colliding.
func KeyByAnonymousOrIP() keyFunc {
	return func(c *gin.Context) string {
		if aid := AnonymousIDFrom(c); aid != "" {
			return "aid:" + aid
		}
		return "ip:" + c.ClientIP()
	}
}

// bucket holds a single limiter and the last time it was seen, so idle
// entries can be evicted.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle implements a per-key token-bucket limiter. Buckets are created on
// demand in a mutex-guarded map; idle buckets are evicted after a TTL via
// opportunistic cleanup during lookups. Safe for concurrent use.
type Throttle struct {
	rps     rate.Limit
	burst   int
	keyFn   keyFunc
	mu      sync.Mutex
	buckets map[string]*bucket

	ttl      time.Duration
	cleanupN uint64
}

// NewThrottle constructs a Throttle with the given tokens-per-second and
// burst size, keyed by keyFn. burst values <= 0 are coerced to 1.
func NewThrottle(rps float64, burst int, keyFn keyFunc) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute, // evict idle entries after TTL
	}
}

// getBucket returns (and refreshes) the limiter for key, creating it if
// absent. It performs opportunistic GC of idle entries after ~5000 lookups,
// BEFORE touching the requested bucket so an old entry can be evicted even
// when it is the one being fetched.
func (t *Throttle) getBucket(key string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	t.cleanupN++
	if t.cleanupN >= 5000 {
		for k, b := range t.buckets {
			if now.Sub(b.lastSeen) >= t.ttl {
				delete(t.buckets, k)
			}
		}
		t.cleanupN = 0
	}

	if b, ok := t.buckets[key]; ok {
		b.lastSeen = now
		lim := b.limiter
		t.mu.Unlock()
		return lim
	}

	lim := rate.NewLimiter(t.rps, t.burst)
	t.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	t.mu.Unlock()
	return lim
}

// Handler returns a Gin middleware that enforces the per-key token bucket.
// Rejected requests get a 429 with the standard error envelope and a minimal
// Retry-After header.
func (t *Throttle) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lim := t.getBucket(t.keyFn(c))
		if lim.Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
