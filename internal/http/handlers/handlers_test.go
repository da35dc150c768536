package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/giftghost/go-insight-backend/internal/config"
	"github.com/giftghost/go-insight-backend/internal/domain"
	"github.com/giftghost/go-insight-backend/internal/http/middleware"
	"github.com/giftghost/go-insight-backend/internal/identity"
	"github.com/giftghost/go-insight-backend/internal/ratelimit"
	"github.com/giftghost/go-insight-backend/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

//
// Scripted service fakes
//

type fakeInsightSvc struct {
	res      *services.GenerateResult
	err      error
	lastIn   services.GenerateInput
	quota    ratelimit.Result
	quotaErr error
}

func (f *fakeInsightSvc) Generate(_ context.Context, in services.GenerateInput) (*services.GenerateResult, error) {
	f.lastIn = in
	return f.res, f.err
}

func (f *fakeInsightSvc) Quota(context.Context, identity.Identity) (ratelimit.Result, error) {
	return f.quota, f.quotaErr
}

type fakeSessionSvc struct {
	feedbackErr  error
	lastTraceID  string
	lastFeedback services.FeedbackParams
	trace        *services.FullTrace
	traceErr     error
	sessions     []domain.InsightSession
	total        int64
	listErr      error
	lastPage     int
	lastPageSize int
}

func (f *fakeSessionSvc) AttachFeedback(_ context.Context, traceID string, p services.FeedbackParams) error {
	f.lastTraceID = traceID
	f.lastFeedback = p
	return f.feedbackErr
}

func (f *fakeSessionSvc) GetFullTrace(_ context.Context, traceID string) (*services.FullTrace, error) {
	f.lastTraceID = traceID
	return f.trace, f.traceErr
}

func (f *fakeSessionSvc) ListPage(_ context.Context, page, pageSize int) ([]domain.InsightSession, int64, error) {
	f.lastPage, f.lastPageSize = page, pageSize
	return f.sessions, f.total, f.listErr
}

type fakeTrackSvc struct {
	err  error
	last []services.IngestEvent
}

func (f *fakeTrackSvc) Ingest(_ context.Context, events []services.IngestEvent) (int, error) {
	f.last = events
	if f.err != nil {
		return 0, f.err
	}
	return len(events), nil
}

//
// Test app wiring
//

func testCookieCfg() config.CookieConfig {
	return config.CookieConfig{
		TraceMaxAge:     24 * time.Hour,
		SessionMaxAge:   30 * time.Minute,
		AnonymousMaxAge: 365 * 24 * time.Hour,
	}
}

// newTestApp wires the handlers into a minimal router mirroring the real route
// table, with correlation cookies enabled.
func newTestApp(is InsightService, ss SessionService, ts TrackService) *gin.Engine {
	h := New(is, ss, ts, testCookieCfg())
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.CorrelationCookies(testCookieCfg()))
	r.POST("/insights", h.GenerateInsight)
	r.GET("/insights/quota", h.GetQuota)
	r.GET("/traces/:id", h.GetTrace)
	r.POST("/traces/:id/feedback", h.LeaveFeedback)
	r.GET("/sessions", h.ListSessions)
	r.POST("/track", h.IngestEvents)
	r.GET("/track", h.DescribeTracking)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, mod ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, fn := range mod {
		fn(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %s: %v", w.Body.String(), err)
	}
	return out
}

func responseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, ck := range w.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}
