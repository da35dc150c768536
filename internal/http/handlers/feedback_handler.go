// Feedback HTTP handlers.
//
// This file exposes the REST endpoint for rating a generation:
//   - POST /traces/{id}/feedback  (attach like/dislike to a trace)
//
// The path id "current" resolves through the trace cookie, so a browser
// client can rate its latest generation without echoing the trace id back.
// Feedback for an unknown or expired trace is accepted and dropped (202):
// replays and stale tabs must never surface errors to the user.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/giftghost/go-insight-backend/internal/http/middleware"
	"github.com/giftghost/go-insight-backend/internal/services"
	"github.com/giftghost/go-insight-backend/internal/utils"
)

// LeaveFeedbackRequest is the JSON payload for rating a trace.
type LeaveFeedbackRequest struct {
	// FeedbackType is "like" or "dislike".
	FeedbackType string `json:"feedback_type" binding:"required,oneof=like dislike" example:"like"`
	// Score optionally refines the judgment (e.g. 1–5).
	Score *int `json:"score,omitempty" example:"4"`
	// Reason optionally explains the judgment.
	Reason string `json:"reason,omitempty" example:"spot on"`
	// ResultSnapshot is an opaque copy of what the user saw when rating.
	ResultSnapshot map[string]any `json:"result_snapshot,omitempty"`
}

// LeaveFeedback godoc
// @ID          leaveFeedback
// @Summary     Rate a generation
// @Description Attaches a like/dislike judgment to a trace. Unknown traces are accepted and dropped.
// @Tags        Feedback
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Trace ID, or \"current\" to use the trace cookie"
// @Param       body  body  handlers.LeaveFeedbackRequest  true  "Feedback payload"
//
// @Success     202  {object}  map[string]string
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload or missing trace"
// @Failure     500  {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /traces/{id}/feedback [post]
func (h *Handlers) LeaveFeedback(c *gin.Context) {
	var req LeaveFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "feedback_type must be like or dislike")
		return
	}

	traceID := c.Param("id")
	if traceID == "current" {
		traceID = middleware.TraceIDFromCookie(c)
	}
	if traceID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no trace to rate")
		return
	}

	device, _, _ := utils.ParseUserAgent(c.Request.UserAgent())
	err := h.sessionSvc.AttachFeedback(c.Request.Context(), traceID, services.FeedbackParams{
		Type:           req.FeedbackType,
		Score:          req.Score,
		Reason:         req.Reason,
		ResultSnapshot: req.ResultSnapshot,
		DeviceType:     device,
		SessionID:      middleware.SessionIDFrom(c),
		AnonymousID:    middleware.AnonymousIDFrom(c),
	})
	if err != nil {
		switch err {
		case services.ErrInvalidFeedback:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "feedback_type must be like or dislike")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to store feedback")
		}
		return
	}

	ok(c, http.StatusAccepted, gin.H{"status": "accepted"})
}
