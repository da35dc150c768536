package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/giftghost/go-insight-backend/internal/domain"
)

func newSessionRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:sessionrepo_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.InsightSession{}, &domain.Feedback{}, &domain.TrackEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedSession(t *testing.T, db *gorm.DB, traceID string) *domain.InsightSession {
	t.Helper()
	s, err := CreateSession(context.Background(), db, &domain.InsightSession{
		TraceID:      traceID,
		SessionID:    "sess-1",
		AnonymousID:  "anon-1",
		InputMode:    "LISTENER",
		InputPreview: "she keeps rewatching old F1 races",
		InputLength:  33,
		Locale:       "en",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func TestCreateSession_AssignsDefaults(t *testing.T) {
	db := newSessionRepoDB(t)
	s := seedSession(t, db, uuid.NewString())

	if s.ID == "" {
		t.Fatal("ID not assigned")
	}
	if s.Status != domain.StatusProcessing {
		t.Fatalf("Status = %q; want processing", s.Status)
	}
	if s.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
	if s.Terminal() {
		t.Fatal("fresh session must not be terminal")
	}
}

func TestCreateSession_DuplicateTraceRejected(t *testing.T) {
	db := newSessionRepoDB(t)
	trace := uuid.NewString()
	seedSession(t, db, trace)

	if _, err := CreateSession(context.Background(), db, &domain.InsightSession{
		TraceID: trace, InputMode: "LISTENER",
	}); err == nil {
		t.Fatal("expected unique-index violation for duplicate trace id")
	}
}

func TestGetSessionByTrace_NotFound(t *testing.T) {
	db := newSessionRepoDB(t)
	_, err := GetSessionByTrace(context.Background(), db, uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}
}

func TestCompleteSession_TransitionAndIdempotence(t *testing.T) {
	db := newSessionRepoDB(t)
	ctx := context.Background()
	trace := uuid.NewString()
	seedSession(t, db, trace)

	res := SessionCompletion{
		Persona:        "The Tinkerer",
		PainPoint:      "no free weekends",
		Obsession:      "mechanical keyboards",
		GiftItem:       "switch tester",
		GiftReason:     "gateway drug",
		GiftPriceRange: "$20-$40",
		GiftBuyLink:    "https://example.com/x",
		ResponseTimeMs: 1234,
	}

	applied, err := CompleteSession(ctx, db, trace, res)
	if err != nil || !applied {
		t.Fatalf("first completion: applied=%v err=%v", applied, err)
	}

	got, err := GetSessionByTrace(ctx, db, trace)
	if err != nil {
		t.Fatalf("GetSessionByTrace: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.GiftItem != "switch tester" {
		t.Fatalf("unexpected row after completion: %+v", got)
	}
	if got.ResponseTimeMs == nil || *got.ResponseTimeMs != 1234 {
		t.Fatalf("ResponseTimeMs = %v", got.ResponseTimeMs)
	}

	// A duplicate completion is a no-op, not an error, and must not clobber.
	res.GiftItem = "something else"
	applied, err = CompleteSession(ctx, db, trace, res)
	if err != nil || applied {
		t.Fatalf("duplicate completion: applied=%v err=%v", applied, err)
	}
	got, _ = GetSessionByTrace(ctx, db, trace)
	if got.GiftItem != "switch tester" {
		t.Fatalf("duplicate completion clobbered result: %+v", got)
	}
}

func TestFailSession_TransitionGuards(t *testing.T) {
	db := newSessionRepoDB(t)
	ctx := context.Background()
	trace := uuid.NewString()
	seedSession(t, db, trace)

	applied, err := FailSession(ctx, db, trace, "upstream timeout", 900)
	if err != nil || !applied {
		t.Fatalf("fail: applied=%v err=%v", applied, err)
	}
	got, _ := GetSessionByTrace(ctx, db, trace)
	if got.Status != domain.StatusFailed || got.ErrorMessage != "upstream timeout" {
		t.Fatalf("unexpected row: %+v", got)
	}

	// Terminal rows never move again, in either direction.
	applied, err = CompleteSession(ctx, db, trace, SessionCompletion{GiftItem: "late"})
	if err != nil || applied {
		t.Fatalf("complete-after-fail: applied=%v err=%v", applied, err)
	}
	applied, err = FailSession(ctx, db, trace, "again", 1)
	if err != nil || applied {
		t.Fatalf("fail-after-fail: applied=%v err=%v", applied, err)
	}
}

func TestCompleteSession_UnknownTrace(t *testing.T) {
	db := newSessionRepoDB(t)
	_, err := CompleteSession(context.Background(), db, uuid.NewString(), SessionCompletion{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}
}

func TestListSessionsPage_OrderAndCount(t *testing.T) {
	db := newSessionRepoDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedSession(t, db, uuid.NewString())
	}

	total, err := CountSessions(ctx, db)
	if err != nil || total != 5 {
		t.Fatalf("CountSessions = %d, %v", total, err)
	}

	page, err := ListSessionsPage(ctx, db, 0, 3)
	if err != nil || len(page) != 3 {
		t.Fatalf("page 1: len=%d err=%v", len(page), err)
	}
	rest, err := ListSessionsPage(ctx, db, 3, 3)
	if err != nil || len(rest) != 2 {
		t.Fatalf("page 2: len=%d err=%v", len(rest), err)
	}
}
