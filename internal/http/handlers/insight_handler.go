// Insight HTTP handlers.
//
// This file exposes the generation entry point and the quota probe:
//   - POST /insights        (run one gift-insight generation)
//   - GET  /insights/quota  (report remaining daily quota, no slot consumed)
//
// Handlers are transport-thin: they resolve the caller's identity from
// headers and correlation cookies, delegate to application services, and
// translate structured results into HTTP responses. A rate-limit rejection is
// a 429 with X-RateLimit-* headers; a failed generation is a 502 whose body
// carries success=false, the trace id, and a safe fallback message — the
// client never sees a raw upstream error.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/giftghost/go-insight-backend/internal/config"
	"github.com/giftghost/go-insight-backend/internal/domain"
	"github.com/giftghost/go-insight-backend/internal/http/middleware"
	"github.com/giftghost/go-insight-backend/internal/identity"
	"github.com/giftghost/go-insight-backend/internal/ratelimit"
	"github.com/giftghost/go-insight-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// InsightService defines the generation operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type InsightService interface {
	// Generate runs one admission-gated generation attempt.
	Generate(ctx context.Context, in services.GenerateInput) (*services.GenerateResult, error)
	// Quota reports the caller's remaining daily quota without consuming it.
	Quota(ctx context.Context, id identity.Identity) (ratelimit.Result, error)
}

// SessionService defines trace lifecycle and feedback operations consumed by
// HTTP handlers.
type SessionService interface {
	// AttachFeedback records a like/dislike judgment against a trace.
	AttachFeedback(ctx context.Context, traceID string, p services.FeedbackParams) error
	// GetFullTrace assembles the session, feedback, and events for a trace.
	GetFullTrace(ctx context.Context, traceID string) (*services.FullTrace, error)
	// ListPage returns a page of sessions and the total count.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.InsightSession, int64, error)
}

// TrackService defines the event-ingestion operation consumed by handlers.
type TrackService interface {
	// Ingest stores a sanitized, enriched batch and returns the row count.
	Ingest(ctx context.Context, events []services.IngestEvent) (int, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for insights, traces, feedback, and
// event ingestion. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	insightSvc InsightService
	sessionSvc SessionService
	trackSvc   TrackService
	cookies    config.CookieConfig
}

// New constructs a Handlers instance bound to the given services.
func New(insightSvc InsightService, sessionSvc SessionService, trackSvc TrackService, cookies config.CookieConfig) *Handlers {
	return &Handlers{insightSvc: insightSvc, sessionSvc: sessionSvc, trackSvc: trackSvc, cookies: cookies}
}

// userID extracts an authenticated user id from the Gin context (set by
// upstream auth middleware) with an "X-User-ID" header fallback (tests use
// it). Empty means the caller is anonymous; there is no demo fallback because
// anonymity is a first-class identity class here.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

// callerIdentity resolves the rate-limit identity for the current request.
func callerIdentity(c *gin.Context) identity.Identity {
	return identity.Resolve(c.Request.Header, userID(c), middleware.AnonymousIDFrom(c))
}

// setQuotaHeaders mirrors the quota standing into response headers so clients
// can render counters without parsing the body.
func setQuotaHeaders(c *gin.Context, r ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))
}

//
// DTOs
//

// GenerateInsightRequest is the JSON payload for running a generation.
type GenerateInsightRequest struct {
	// Mode selects the input style (LISTENER or KEYWORDS); defaults to LISTENER.
	Mode string `json:"mode" example:"LISTENER"`
	// Content is the free-text description of the gift recipient.
	Content string `json:"content" binding:"required" example:"my sister keeps rewatching old F1 races"`
	// Locale is the caller's BCP 47 locale hint.
	Locale string `json:"locale" example:"en-GB"`
}

//
// Handlers
//

// GenerateInsight godoc
// @ID          generateInsight
// @Summary     Generate a gift insight
// @Description Runs one admission-gated generation and returns the structured result. Failed generations return 502 with success=false, the trace id, and a fallback message.
// @Tags        Insights
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (optional; anonymous otherwise)"
// @Param       body       body    handlers.GenerateInsightRequest  true  "Generation payload"
//
// @Success     200  {object}  services.GenerateResult
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or oversized input"
// @Failure     429  {object}  services.GenerateResult "Daily quota exhausted"
// @Failure     502  {object}  services.GenerateResult "Completion failed (fallback payload)"
// @Failure     503  {object}  handlers.ErrorResponse  "Quota store unreachable"
// @Router      /insights [post]
func (h *Handlers) GenerateInsight(c *gin.Context) {
	var req GenerateInsightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content is required")
		return
	}

	res, err := h.insightSvc.Generate(c.Request.Context(), services.GenerateInput{
		Mode:        req.Mode,
		Content:     req.Content,
		Locale:      req.Locale,
		Identity:    callerIdentity(c),
		SessionID:   middleware.SessionIDFrom(c),
		AnonymousID: middleware.AnonymousIDFrom(c),
	})
	if err != nil {
		switch err {
		case services.ErrEmptyInput:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content must not be empty")
		case services.ErrInputTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content is too long")
		case services.ErrQuotaUnavailable:
			fail(c, http.StatusServiceUnavailable, ErrCodeQuotaUnavailable, "quota check unavailable, try again later")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	setQuotaHeaders(c, ratelimit.Result{Limit: res.Limit, Remaining: res.Remaining, ResetAt: res.ResetAt})

	if res.RateLimited {
		retry := int(time.Until(res.ResetAt).Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		ok(c, http.StatusTooManyRequests, res)
		return
	}

	// Both outcomes carry a trace id; remember it so a later feedback call
	// can correlate without the client echoing it back.
	if res.TraceID != "" {
		middleware.SetTraceCookie(c, res.TraceID, h.cookies)
	}
	if !res.Success {
		// Completion failure: the body still carries the trace id and a safe
		// fallback message, never the raw upstream error.
		ok(c, http.StatusBadGateway, res)
		return
	}
	ok(c, http.StatusOK, res)
}

// GetQuota godoc
// @ID          getQuota
// @Summary     Report remaining daily quota
// @Description Returns the caller's current quota standing without consuming a slot.
// @Tags        Insights
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (optional; anonymous otherwise)"
//
// @Success     200  {object}  ratelimit.Result
// @Failure     503  {object}  handlers.ErrorResponse  "Quota store unreachable"
// @Router      /insights/quota [get]
func (h *Handlers) GetQuota(c *gin.Context) {
	res, err := h.insightSvc.Quota(c.Request.Context(), callerIdentity(c))
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeQuotaUnavailable, "quota check unavailable, try again later")
		return
	}
	setQuotaHeaders(c, res)
	ok(c, http.StatusOK, res)
}
