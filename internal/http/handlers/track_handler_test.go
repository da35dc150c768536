package handlers

import (
	"net/http"
	"testing"
	"time"
)

func TestIngestEvents_AcceptsEnrichedBatch(t *testing.T) {
	ts := &fakeTrackSvc{}
	r := newTestApp(&fakeInsightSvc{}, &fakeSessionSvc{}, ts)

	when := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	w := doJSON(t, r, http.MethodPost, "/track", map[string]any{
		"events": []map[string]any{
			{"name": "page_view", "properties": map[string]any{"path": "/"}, "timestamp": when},
			{"name": "mode_switched", "session_id": "sid-explicit"},
		},
	}, func(req *http.Request) {
		req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile Safari/604.1")
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
	})

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	body := decode[TrackResponse](t, w)
	if body.Accepted != 2 {
		t.Fatalf("accepted = %d", body.Accepted)
	}

	if len(ts.last) != 2 {
		t.Fatalf("events = %d", len(ts.last))
	}
	first := ts.last[0]
	if first.Name != "page_view" || !first.Timestamp.Equal(when) {
		t.Fatalf("first = %+v", first)
	}
	if first.DeviceType != "mobile" || first.Browser != "safari" || first.OS != "ios" {
		t.Fatalf("ua enrichment = %+v", first)
	}
	if first.IPHash != "203.0.xxx.xxx" {
		t.Fatalf("ip hash = %q", first.IPHash)
	}
	// Correlation ids fall back to the minted cookies.
	if first.SessionID == "" || first.AnonymousID == "" {
		t.Fatalf("correlation fallback missing: %+v", first)
	}
	// An explicit session id wins over the cookie.
	if ts.last[1].SessionID != "sid-explicit" {
		t.Fatalf("second = %+v", ts.last[1])
	}
}

func TestIngestEvents_RejectsEmptyAndOversized(t *testing.T) {
	r := newTestApp(&fakeInsightSvc{}, &fakeSessionSvc{}, &fakeTrackSvc{})

	w := doJSON(t, r, http.MethodPost, "/track", map[string]any{"events": []any{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: status = %d", w.Code)
	}

	big := make([]map[string]any, maxTrackBatch+1)
	for i := range big {
		big[i] = map[string]any{"name": "e"}
	}
	w = doJSON(t, r, http.MethodPost, "/track", map[string]any{"events": big})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized batch: status = %d", w.Code)
	}
}

func TestIngestEvents_MalformedBody400(t *testing.T) {
	r := newTestApp(&fakeInsightSvc{}, &fakeSessionSvc{}, &fakeTrackSvc{})

	w := doJSON(t, r, http.MethodPost, "/track", map[string]any{"not_events": true})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDescribeTracking(t *testing.T) {
	r := newTestApp(&fakeInsightSvc{}, &fakeSessionSvc{}, &fakeTrackSvc{})

	w := doJSON(t, r, http.MethodGet, "/track", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["endpoint"] != "/track" || body["max_batch_size"] != float64(maxTrackBatch) {
		t.Fatalf("body = %v", body)
	}
}
