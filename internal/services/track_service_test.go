package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/giftghost/go-insight-backend/internal/repo"
)

func TestIngest_StoresSanitizedEnrichedRows(t *testing.T) {
	db := newTestDB(t)
	svc := &TrackService{DB: db, Log: zerolog.Nop()}
	ctx := context.Background()

	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	n, err := svc.Ingest(ctx, []IngestEvent{{
		Name:        "page_view",
		Properties:  map[string]any{"path": "/", "apiToken": "sk-leak"},
		Timestamp:   ts,
		SessionID:   "s1",
		AnonymousID: "a1",
		UserAgent:   "Mozilla/5.0",
		DeviceType:  "mobile",
		Browser:     "chrome",
		OS:          "android",
		IPHash:      "203.0.xxx.xxx",
	}})
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}

	rows, err := repo.ListEventsBySession(ctx, db, "s1", 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows=%d err=%v", len(rows), err)
	}
	row := rows[0]
	if row.DeviceType != "mobile" || row.IPHash != "203.0.xxx.xxx" {
		t.Fatalf("enrichment lost: %+v", row)
	}
	if !row.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v; want %v", row.Timestamp, ts)
	}
	if strings.Contains(row.Properties, "sk-leak") {
		t.Fatalf("secret survived sanitization: %s", row.Properties)
	}
	if !strings.Contains(row.Properties, "path") {
		t.Fatalf("benign property dropped: %s", row.Properties)
	}
}

func TestIngest_SkipsUnnamedAndDefaultsTimestamp(t *testing.T) {
	db := newTestDB(t)
	svc := &TrackService{DB: db, Log: zerolog.Nop()}
	ctx := context.Background()

	n, err := svc.Ingest(ctx, []IngestEvent{
		{Name: "", SessionID: "s1"},
		{Name: "real", SessionID: "s1"},
	})
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v; want only the named event", n, err)
	}

	rows, _ := repo.ListEventsBySession(ctx, db, "s1", 10)
	if len(rows) != 1 || rows[0].Name != "real" {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Timestamp.IsZero() {
		t.Fatal("zero timestamp not defaulted")
	}
}

func TestIngest_EmptyBatch(t *testing.T) {
	svc := &TrackService{DB: newTestDB(t), Log: zerolog.Nop()}
	n, err := svc.Ingest(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
