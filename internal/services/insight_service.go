// Package services – InsightService
//
// This file implements the generation entry point: admission through the
// daily rate limiter, opening a trace/session, invoking the external
// completion collaborator, and closing the session with the result or the
// failure.
//
// Ordering within one attempt is strict: the session row must exist before
// the completion call starts, and the terminal transition happens after the
// call resolves. Nothing is guaranteed across different trace ids.
//
// The quota slot is consumed at admission time ("pay on entry"): a generation
// that subsequently fails does not refund its slot.
//
// Nothing here panics or throws across the transport boundary: every outcome,
// including rate-limit rejections and completion failures, is a plain result
// value.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/giftghost/go-insight-backend/internal/identity"
	"github.com/giftghost/go-insight-backend/internal/ratelimit"
	"github.com/giftghost/go-insight-backend/internal/repo"
)

// Insight is the structured recommendation produced by the completion
// collaborator.
type Insight struct {
	Persona        string `json:"persona"`
	PainPoint      string `json:"pain_point"`
	Obsession      string `json:"obsession"`
	GiftItem       string `json:"gift_item"`
	GiftReason     string `json:"gift_reason"`
	GiftPriceRange string `json:"gift_price_range,omitempty"`
	GiftBuyLink    string `json:"gift_buy_link"`
}

// Completion is the opaque external completion service. Implementations carry
// their own timeout/retry policy; this core only records the outcome.
type Completion interface {
	Generate(ctx context.Context, mode, content, locale string) (*Insight, error)
}

// Admitter is the rate-limiter contract consumed by the entry point.
// Satisfied by *ratelimit.Limiter.
type Admitter interface {
	CheckAndConsume(ctx context.Context, id identity.Identity) (ratelimit.Result, error)
	Peek(ctx context.Context, id identity.Identity) (ratelimit.Result, error)
}

// InsightService orchestrates one generation attempt end to end.
type InsightService struct {
	Limiter    Admitter
	Sessions   *SessionService
	Completion Completion
	Log        zerolog.Logger

	// MinDelay floors the perceived latency of a successful generation.
	// Zero disables the floor (tests).
	MinDelay time.Duration
	// MaxInputRunes caps accepted input length. Zero means the default (5000).
	MaxInputRunes int

	now func() time.Time
}

// GenerateInput is one generation request as seen by the core.
type GenerateInput struct {
	Mode        string
	Content     string
	Locale      string
	Identity    identity.Identity
	SessionID   string
	AnonymousID string
}

// GenerateResult is the structured outcome returned to the transport layer.
// Exactly one of the three shapes is populated: a successful insight, a
// rate-limit rejection (RateLimited with quota fields), or a generation
// failure (ErrorCode/Message).
type GenerateResult struct {
	Success bool     `json:"success"`
	TraceID string   `json:"trace_id,omitempty"`
	Insight *Insight `json:"insight,omitempty"`

	// Limit and Remaining always serialize: remaining is 0 in precisely the
	// responses (rejection, last allowed call) where clients need to see it.
	RateLimited bool      `json:"-"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	ResetAt     time.Time `json:"reset_at,omitempty"`

	ErrorCode string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Generate runs one attempt: admission → session start → completion →
// terminal transition.
//
// Errors are returned only for infrastructure faults (quota store or session
// store unreachable); quota rejections and completion failures are expressed
// in the result value.
func (s *InsightService) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyInput
	}
	maxRunes := s.MaxInputRunes
	if maxRunes <= 0 {
		maxRunes = 5000
	}
	if len([]rune(content)) > maxRunes {
		return nil, ErrInputTooLong
	}
	mode := strings.ToUpper(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = "LISTENER"
	}

	// Admission. Pay on entry: an admitted slot stays consumed even when the
	// completion later fails.
	adm, err := s.Limiter.CheckAndConsume(ctx, in.Identity)
	if err != nil {
		return nil, ErrQuotaUnavailable
	}
	if !adm.Allowed {
		return &GenerateResult{
			Success:     false,
			RateLimited: true,
			Limit:       adm.Limit,
			Remaining:   adm.Remaining,
			ResetAt:     adm.ResetAt,
			ErrorCode:   "RATE_LIMIT_EXCEEDED",
			Message:     "daily generation limit reached",
		}, nil
	}

	// The session row must exist before the completion call starts so client
	// events can correlate against it from the first moment.
	sess, err := s.Sessions.Start(ctx, StartParams{
		SessionID:   in.SessionID,
		AnonymousID: in.AnonymousID,
		InputMode:   mode,
		Content:     content,
		Locale:      in.Locale,
	})
	if err != nil {
		return nil, err
	}

	start := s.clock()()
	insight, cerr := s.Completion.Generate(ctx, mode, content, in.Locale)
	elapsed := s.clock()().Sub(start)
	s.holdFloor(ctx, elapsed)
	elapsedMs := elapsed.Milliseconds()

	if cerr != nil {
		if ferr := s.Sessions.Fail(ctx, sess.TraceID, cerr.Error(), elapsedMs); ferr != nil {
			s.Log.Error().Err(ferr).Str("trace_id", sess.TraceID).Msg("failed to record generation failure")
		}
		return &GenerateResult{
			Success:   false,
			TraceID:   sess.TraceID,
			ErrorCode: "GENERATION_FAILED",
			Message:   "the ghost is confused, please try again",
			Limit:     adm.Limit,
			Remaining: adm.Remaining,
			ResetAt:   adm.ResetAt,
		}, nil
	}

	if err := s.Sessions.Complete(ctx, sess.TraceID, repo.SessionCompletion{
		Persona:        insight.Persona,
		PainPoint:      insight.PainPoint,
		Obsession:      insight.Obsession,
		GiftItem:       insight.GiftItem,
		GiftReason:     insight.GiftReason,
		GiftPriceRange: insight.GiftPriceRange,
		GiftBuyLink:    insight.GiftBuyLink,
		ResponseTimeMs: elapsedMs,
	}); err != nil {
		s.Log.Error().Err(err).Str("trace_id", sess.TraceID).Msg("failed to record generation completion")
	}

	return &GenerateResult{
		Success:   true,
		TraceID:   sess.TraceID,
		Insight:   insight,
		Limit:     adm.Limit,
		Remaining: adm.Remaining,
		ResetAt:   adm.ResetAt,
	}, nil
}

// Quota reports the caller's standing without consuming a slot.
func (s *InsightService) Quota(ctx context.Context, id identity.Identity) (ratelimit.Result, error) {
	res, err := s.Limiter.Peek(ctx, id)
	if err != nil {
		return res, ErrQuotaUnavailable
	}
	return res, nil
}

// holdFloor sleeps out the remainder of the configured minimum latency,
// bailing early when the request context is done.
func (s *InsightService) holdFloor(ctx context.Context, elapsed time.Duration) {
	if s.MinDelay <= 0 || elapsed >= s.MinDelay {
		return
	}
	select {
	case <-time.After(s.MinDelay - elapsed):
	case <-ctx.Done():
	}
}

// clock returns the time source (a seam for tests).
func (s *InsightService) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}
