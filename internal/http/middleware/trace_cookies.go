// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file manages the three correlation cookies that tie browser activity
// to server-side traces:
//
//   - gg_anonymous_id: long-lived (~1 year) stable visitor identifier, used
//     for anonymous rate limiting and event correlation.
//   - gg_session_id: short-lived (~30 min) browsing-session identifier,
//     refreshed on every request so it expires only after real inactivity.
//   - gg_trace_id: the trace of the most recent generation (~1 day), set by
//     the insight handler so a later feedback call can find its trace.
//
// All cookies are SameSite=Lax, HttpOnly, and carry opaque identifiers only.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/giftghost/go-insight-backend/internal/config"
)

const (
	// TraceCookie names the cookie carrying the most recent trace id.
	TraceCookie = "gg_trace_id"
	// SessionCookie names the browsing-session cookie.
	SessionCookie = "gg_session_id"
	// AnonymousCookie names the stable visitor cookie.
	AnonymousCookie = "gg_anonymous_id"

	sessionIDKey   = "sessionID"
	anonymousIDKey = "anonymousID"
)

// CorrelationCookies reads the session and anonymous cookies into the Gin
// context, minting fresh identifiers when absent, and re-issues both so their
// max-ages slide forward on activity.
//
// The trace cookie is NOT minted here: it is only set by a successful
// generation (see SetTraceCookie) and only read by the feedback path.
func CorrelationCookies(cfg config.CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		secure := isHTTPS(c.Request)

		aid, err := c.Cookie(AnonymousCookie)
		if err != nil || aid == "" {
			aid = uuid.NewString()
		}
		sid, err := c.Cookie(SessionCookie)
		if err != nil || sid == "" {
			sid = uuid.NewString()
		}

		c.Set(anonymousIDKey, aid)
		c.Set(sessionIDKey, sid)

		setCookie(c, AnonymousCookie, aid, int(cfg.AnonymousMaxAge.Seconds()), secure)
		setCookie(c, SessionCookie, sid, int(cfg.SessionMaxAge.Seconds()), secure)

		c.Next()
	}
}

// SessionIDFrom returns the browsing-session id attached by
// CorrelationCookies, or "" when the middleware did not run.
func SessionIDFrom(c *gin.Context) string {
	v, _ := c.Get(sessionIDKey)
	s, _ := v.(string)
	return s
}

// AnonymousIDFrom returns the stable visitor id attached by
// CorrelationCookies, or "" when the middleware did not run.
func AnonymousIDFrom(c *gin.Context) string {
	v, _ := c.Get(anonymousIDKey)
	s, _ := v.(string)
	return s
}

// TraceIDFromCookie returns the trace id of the caller's most recent
// generation, or "" when no trace cookie is present.
func TraceIDFromCookie(c *gin.Context) string {
	v, err := c.Cookie(TraceCookie)
	if err != nil {
		return ""
	}
	return v
}

// SetTraceCookie records traceID in the trace cookie. Called by the insight
// handler after opening a trace so a later feedback call can correlate.
func SetTraceCookie(c *gin.Context, traceID string, cfg config.CookieConfig) {
	setCookie(c, TraceCookie, traceID, int(cfg.TraceMaxAge.Seconds()), isHTTPS(c.Request))
}

// ClearTraceCookie expires the trace cookie.
func ClearTraceCookie(c *gin.Context) {
	setCookie(c, TraceCookie, "", -1, isHTTPS(c.Request))
}

func setCookie(c *gin.Context, name, value string, maxAge int, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
