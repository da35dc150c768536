// Package services – SessionService
//
// This file implements the SessionService, which owns the trace/session state
// machine (processing → completed | failed) and the feedback recorder.
//
// One generation attempt is handled by one logical request, so the service
// needs no internal locking for the common case, but the terminal transitions
// must survive duplicate invocation (network retries): the repository guards
// the UPDATE with the processing predicate, and a second call for an
// already-terminal trace is logged as an anomaly and treated as a no-op.
//
// Lifecycle tracking events (session_start, generation_completed,
// generation_failed, user_feedback) are emitted through the injected tracker
// with "emit and continue" semantics: failures are swallowed-and-logged by
// the tracker and never bubble into the user-facing flow.
package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/giftghost/go-insight-backend/internal/domain"
	"github.com/giftghost/go-insight-backend/internal/repo"
	"github.com/giftghost/go-insight-backend/internal/track"
)

// Tracker is the event-pipeline contract consumed by services. Satisfied by
// *track.Tracker; tests substitute a recording fake.
type Tracker interface {
	TrackAs(sessionID, anonymousID, name string, props map[string]any)
}

// SessionService manages insight-session rows and their feedback.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Tracker receives lifecycle events; may not be nil.
	Tracker Tracker
	// Log is the service logger (anomalies, dropped feedback).
	Log zerolog.Logger
	// PreviewRunes caps the stored input preview. Zero means the default (200).
	PreviewRunes int
}

// StartParams captures what the caller asked for when opening a session.
type StartParams struct {
	TraceID     string // minted here when empty
	SessionID   string
	AnonymousID string
	InputMode   string
	Content     string
	Locale      string
}

// FeedbackParams is a like/dislike judgment to attach to a trace.
type FeedbackParams struct {
	Type           string // domain.FeedbackLike or domain.FeedbackDislike
	Score          *int
	Reason         string
	ResultSnapshot map[string]any
	DeviceType     string
	SessionID      string
	AnonymousID    string
}

// Start mints a trace id (unless supplied), persists a processing-state
// session row with a truncated input preview, and emits a session_start
// event. The returned session carries the trace id the caller must use for
// the terminal transition.
func (s *SessionService) Start(ctx context.Context, p StartParams) (*domain.InsightSession, error) {
	if p.TraceID == "" {
		p.TraceID = uuid.NewString()
	}
	preview := s.PreviewRunes
	if preview <= 0 {
		preview = 200
	}

	sess, err := repo.CreateSession(ctx, s.DB, &domain.InsightSession{
		TraceID:      p.TraceID,
		SessionID:    p.SessionID,
		AnonymousID:  p.AnonymousID,
		InputMode:    p.InputMode,
		InputPreview: clipRunes(p.Content, preview),
		InputLength:  len([]rune(p.Content)),
		Locale:       normalizeLocale(p.Locale),
	})
	if err != nil {
		return nil, err
	}

	s.Tracker.TrackAs(p.SessionID, p.AnonymousID, "session_start", map[string]any{
		"trace_id":     sess.TraceID,
		"input_mode":   sess.InputMode,
		"input_length": sess.InputLength,
		"locale":       sess.Locale,
	})
	return sess, nil
}

// Complete performs the one-shot processing → completed transition, recording
// the result fields and elapsed time, and emits a generation_completed event.
//
// A duplicate invocation for an already-terminal trace is a logged no-op.
// An unknown trace returns ErrSessionNotFound.
func (s *SessionService) Complete(ctx context.Context, traceID string, res repo.SessionCompletion) error {
	applied, err := repo.CompleteSession(ctx, s.DB, traceID, res)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if !applied {
		s.Log.Warn().Str("trace_id", traceID).Msg("duplicate completion for terminal session ignored")
		return nil
	}

	sess, err := repo.GetSessionByTrace(ctx, s.DB, traceID)
	if err != nil {
		// The transition already happened; the event tag is best effort.
		s.Log.Warn().Err(err).Str("trace_id", traceID).Msg("completed session not readable for event tagging")
		return nil
	}
	s.Tracker.TrackAs(sess.SessionID, sess.AnonymousID, "generation_completed", map[string]any{
		"trace_id":         traceID,
		"persona":          res.Persona,
		"gift_item":        res.GiftItem,
		"response_time_ms": res.ResponseTimeMs,
	})
	return nil
}

// Fail performs the one-shot processing → failed transition, recording the
// error message and elapsed time, and emits a generation_failed event. Same
// duplicate/unknown semantics as Complete.
func (s *SessionService) Fail(ctx context.Context, traceID, errorMessage string, elapsedMs int64) error {
	applied, err := repo.FailSession(ctx, s.DB, traceID, errorMessage, elapsedMs)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if !applied {
		s.Log.Warn().Str("trace_id", traceID).Msg("duplicate failure for terminal session ignored")
		return nil
	}

	sess, err := repo.GetSessionByTrace(ctx, s.DB, traceID)
	if err != nil {
		s.Log.Warn().Err(err).Str("trace_id", traceID).Msg("failed session not readable for event tagging")
		return nil
	}
	s.Tracker.TrackAs(sess.SessionID, sess.AnonymousID, "generation_failed", map[string]any{
		"trace_id":         traceID,
		"error":            errorMessage,
		"response_time_ms": elapsedMs,
	})
	return nil
}

// AttachFeedback records a like/dislike judgment against the session for
// traceID and emits a user_feedback event.
//
// Feedback for an unknown or expired trace is dropped with a log line, not an
// error: replays and stale clients must not break the user-facing flow. The
// store accepts repeated feedback for one trace (dedupe is a UI convention).
func (s *SessionService) AttachFeedback(ctx context.Context, traceID string, p FeedbackParams) error {
	if p.Type != domain.FeedbackLike && p.Type != domain.FeedbackDislike {
		return ErrInvalidFeedback
	}

	sess, err := repo.GetSessionByTrace(ctx, s.DB, traceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.Log.Info().Str("trace_id", traceID).Msg("feedback for unknown trace dropped")
			return nil
		}
		return err
	}

	snapshot := "{}"
	if len(p.ResultSnapshot) > 0 {
		if raw, err := json.Marshal(p.ResultSnapshot); err == nil {
			snapshot = string(raw)
		}
	}

	fb := &domain.Feedback{
		TraceID:        traceID,
		SessionRowID:   sess.ID,
		FeedbackType:   p.Type,
		FeedbackScore:  p.Score,
		FeedbackReason: p.Reason,
		ResultSnapshot: snapshot,
		DeviceType:     p.DeviceType,
		SessionID:      p.SessionID,
		AnonymousID:    p.AnonymousID,
	}
	if err := repo.CreateFeedback(ctx, s.DB, fb); err != nil {
		return err
	}

	s.Tracker.TrackAs(p.SessionID, p.AnonymousID, "user_feedback", map[string]any{
		"trace_id":      traceID,
		"feedback_type": p.Type,
	})
	return nil
}

// FullTrace is the assembled view of one trace: the session row plus any
// feedback and the events recorded under the same browser session.
type FullTrace struct {
	Session  *domain.InsightSession `json:"session"`
	Feedback []domain.Feedback      `json:"feedback"`
	Events   []domain.TrackEvent    `json:"events"`
}

// GetFullTrace assembles the full correlation view for a trace id, or
// ErrSessionNotFound when no session carries it.
func (s *SessionService) GetFullTrace(ctx context.Context, traceID string) (*FullTrace, error) {
	sess, err := repo.GetSessionByTrace(ctx, s.DB, traceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	fb, err := repo.ListFeedbackByTrace(ctx, s.DB, traceID)
	if err != nil {
		return nil, err
	}
	events, err := repo.ListEventsBySession(ctx, s.DB, sess.SessionID, 500)
	if err != nil {
		return nil, err
	}
	return &FullTrace{Session: sess, Feedback: fb, Events: events}, nil
}

// ListPage returns a page of sessions (most recent first) and the total
// count. It applies defaults for invalid page/pageSize.
func (s *SessionService) ListPage(ctx context.Context, page, pageSize int) ([]domain.InsightSession, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountSessions(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.InsightSession{}, 0, nil
	}
	items, err := repo.ListSessionsPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// clipRunes truncates s to at most max runes.
func clipRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// normalizeLocale parses loc as a BCP 47 tag and returns its canonical form,
// falling back to the raw value when parsing fails and "en" when empty.
func normalizeLocale(loc string) string {
	if loc == "" {
		return "en"
	}
	tag, err := language.Parse(loc)
	if err != nil {
		return loc
	}
	return tag.String()
}

// ensure *track.Tracker keeps satisfying the Tracker contract.
var _ Tracker = (*track.Tracker)(nil)
