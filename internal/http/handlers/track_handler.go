// Tracking HTTP handlers.
//
// This file exposes the analytics ingestion surface:
//   - POST /track  (accept a batch of client events, max 100)
//   - GET  /track  (endpoint descriptor for client self-configuration)
//
// Ingestion is append-only and at-least-once friendly: the handler enriches
// each event with server-derived metadata (coarse device class, anonymized
// IP), fills missing correlation ids from the cookies, and accepts the batch
// with 202 without waiting for downstream consumers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/giftghost/go-insight-backend/internal/http/middleware"
	"github.com/giftghost/go-insight-backend/internal/identity"
	"github.com/giftghost/go-insight-backend/internal/services"
	"github.com/giftghost/go-insight-backend/internal/utils"
)

const (
	// maxTrackBatch caps the number of events accepted in one ingestion call.
	maxTrackBatch = 100
	// maxUserAgentBytes caps the stored User-Agent string.
	maxUserAgentBytes = 500
)

// TrackEventRequest is one client-reported event in an ingestion batch.
type TrackEventRequest struct {
	// Name identifies the event (e.g. "page_view", "mode_switched").
	Name string `json:"name" binding:"required" example:"page_view"`
	// Properties is an arbitrary JSON object; sensitive keys are stripped
	// server-side.
	Properties map[string]any `json:"properties"`
	// Timestamp is the client-side occurrence time (RFC 3339); the server
	// ingestion time is used when absent.
	Timestamp *time.Time `json:"timestamp"`
	// SessionID / AnonymousID override the correlation cookies when set.
	SessionID   string `json:"session_id"`
	AnonymousID string `json:"anonymous_id"`
}

// TrackRequest is the JSON payload for the ingestion endpoint.
type TrackRequest struct {
	Events []TrackEventRequest `json:"events" binding:"required"`
}

// TrackResponse acknowledges an accepted batch.
type TrackResponse struct {
	Accepted int `json:"accepted" example:"3"`
}

// IngestEvents godoc
// @ID          ingestEvents
// @Summary     Ingest a batch of analytics events
// @Description Accepts up to 100 client events, enriches them with server-side metadata, and stores them append-only.
// @Tags        Tracking
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.TrackRequest  true  "Event batch"
//
// @Success     202  {object}  handlers.TrackResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or oversized batch"
// @Failure     500  {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /track [post]
func (h *Handlers) IngestEvents(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "events array is required")
		return
	}
	if len(req.Events) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "events array must not be empty")
		return
	}
	if len(req.Events) > maxTrackBatch {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "at most 100 events per batch")
		return
	}

	ua := c.Request.UserAgent()
	if len(ua) > maxUserAgentBytes {
		ua = ua[:maxUserAgentBytes]
	}
	device, browser, osName := utils.ParseUserAgent(ua)
	ipHash := identity.AnonymizeIP(c.ClientIP())
	sid := middleware.SessionIDFrom(c)
	aid := middleware.AnonymousIDFrom(c)

	events := make([]services.IngestEvent, 0, len(req.Events))
	for _, ev := range req.Events {
		ie := services.IngestEvent{
			Name:        ev.Name,
			Properties:  ev.Properties,
			SessionID:   ev.SessionID,
			AnonymousID: ev.AnonymousID,
			UserAgent:   ua,
			DeviceType:  device,
			Browser:     browser,
			OS:          osName,
			IPHash:      ipHash,
		}
		if ev.Timestamp != nil {
			ie.Timestamp = *ev.Timestamp
		}
		if ie.SessionID == "" {
			ie.SessionID = sid
		}
		if ie.AnonymousID == "" {
			ie.AnonymousID = aid
		}
		events = append(events, ie)
	}

	n, err := h.trackSvc.Ingest(c.Request.Context(), events)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, "failed to store events")
		return
	}
	ok(c, http.StatusAccepted, TrackResponse{Accepted: n})
}

// DescribeTracking godoc
// @ID          describeTracking
// @Summary     Describe the ingestion endpoint
// @Description Returns a static descriptor clients use to self-configure batching.
// @Tags        Tracking
// @Produce     json
//
// @Success     200  {object}  map[string]any
// @Router      /track [get]
func (h *Handlers) DescribeTracking(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"service":        "go-insight-backend",
		"version":        "v1",
		"endpoint":       "/track",
		"method":         "POST",
		"max_batch_size": maxTrackBatch,
		"fields":         []string{"name", "properties", "timestamp", "session_id", "anonymous_id"},
	})
}
