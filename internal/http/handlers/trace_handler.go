// Trace HTTP handlers.
//
// This file exposes the read side of the traceability surface:
//   - GET /traces/{id}  (full correlation view: session + feedback + events)
//   - GET /sessions     (paginated session listing, most recent first)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/giftghost/go-insight-backend/internal/domain"
	"github.com/giftghost/go-insight-backend/internal/services"
	"github.com/giftghost/go-insight-backend/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListSessionsResponse wraps a page of sessions and pagination information.
type ListSessionsResponse struct {
	Sessions   []domain.InsightSession `json:"sessions"`
	Pagination Pagination              `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// GetTrace godoc
// @ID          getTrace
// @Summary     Fetch the full view of a trace
// @Description Returns the session row plus any feedback and the events recorded under the same browser session.
// @Tags        Traces
// @Produce     json
//
// @Param       id  path  string  true  "Trace ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.FullTrace
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed trace id"
// @Failure     404  {object}  handlers.ErrorResponse  "Trace not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /traces/{id} [get]
func (h *Handlers) GetTrace(c *gin.Context) {
	traceID := c.Param("id")
	if _, err := uuid.Parse(traceID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "trace id must be a UUID")
		return
	}

	full, err := h.sessionSvc.GetFullTrace(c.Request.Context(), traceID)
	if err != nil {
		if err == services.ErrSessionNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "trace not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, full)
}

// ListSessions godoc
// @ID          listSessions
// @Summary     List sessions (paginated)
// @Description Returns a page of insight sessions, most recent first.
// @Tags        Traces
// @Produce     json
//
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListSessionsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.sessionSvc.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListSessionsResponse{
		Sessions: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
