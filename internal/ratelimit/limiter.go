// Package ratelimit implements the daily generation quota that protects the
// completion backend from abuse across anonymous and authenticated callers.
//
// The limiter is two-tiered:
//
//   - A process-local fixed window (default 60s) per identity key absorbs
//     bursts: once the cached count for the current window has reached the
//     daily limit, further requests are rejected without touching the store.
//     This short-circuit is only correct because the window is far shorter
//     than the reset period and the daily cap is the binding constraint —
//     the cache is an accelerator, never an independent quota.
//   - A durable per-(key, day) counter is the source of truth. Every allowed
//     request goes through an atomic increment-if-under-limit on the store,
//     so concurrent requests for one key cannot overshoot the limit.
//
// The in-memory state is per instance and is lost on restart; that is
// acceptable because the persisted counter still enforces the daily cap.
//
// Failure policy: the limiter FAILS CLOSED. When the store is unreachable the
// request is denied and the error is logged and returned, so a transient
// database hiccup can never grant unlimited access.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/giftghost/go-insight-backend/internal/config"
	"github.com/giftghost/go-insight-backend/internal/identity"
)

// Result is the outcome of an admission check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// CounterStore is the durable per-day counter consumed by the limiter.
// Implementations must make Increment atomic with respect to concurrent
// calls for the same (key, day).
type CounterStore interface {
	// Count returns the stored count for (key, day), or (0, false, nil) when
	// no row exists yet.
	Count(ctx context.Context, key, day string) (count int, found bool, err error)

	// Increment adds one to the counter for (key, day) if and only if the
	// current count is below limit, creating the row when absent. It returns
	// the resulting count and whether the increment was applied. A rejected
	// increment must leave the stored count untouched.
	Increment(ctx context.Context, key, day string, limit int) (newCount int, applied bool, err error)
}

// windowState is the ephemeral per-key fast-window entry. Not authoritative;
// reconciled against the persisted counter after every store round trip.
type windowState struct {
	count     int
	day       string
	windowEnd time.Time
}

// Limiter enforces the daily quota. Safe for concurrent use.
//
// The cache lifecycle is explicit: entries expire with their window, are
// opportunistically evicted during lookups, and the whole map is cleared only
// by process restart.
type Limiter struct {
	cfg   config.QuotaConfig
	store CounterStore
	log   zerolog.Logger
	now   func() time.Time

	mu       sync.Mutex
	cache    map[string]*windowState
	lookupN  uint64
	cleanupN uint64 // lookups between opportunistic evictions
}

// New constructs a Limiter over the given counter store.
func New(cfg config.QuotaConfig, store CounterStore, log zerolog.Logger) *Limiter {
	return &Limiter{
		cfg:      cfg,
		store:    store,
		log:      log,
		now:      time.Now,
		cache:    make(map[string]*windowState),
		cleanupN: 5000,
	}
}

// limitFor selects the daily cap for the identity class.
func (l *Limiter) limitFor(id identity.Identity) int {
	if id.Authenticated() {
		return l.cfg.UserDaily
	}
	return l.cfg.AnonymousDaily
}

// CheckAndConsume decides whether one more generation request is admitted for
// the caller and, if so, consumes a slot ("pay on entry": the slot stays
// consumed even if the downstream generation later fails).
//
// The returned Result is always populated. A non-nil error means the store
// was unreachable; per the fail-closed policy the Result then carries
// Allowed=false and the caller should surface an infrastructure failure, not
// a quota rejection.
func (l *Limiter) CheckAndConsume(ctx context.Context, id identity.Identity) (Result, error) {
	key := id.Key()
	limit := l.limitFor(id)
	now := l.now()
	day := dayKey(now)
	reset := nextMidnight(now)

	// Fast path: reject from the cached window without a store round trip.
	if l.fastReject(key, day, now, limit) {
		return Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: reset}, nil
	}

	// Authoritative path: atomic increment-if-under-limit.
	count, applied, err := l.store.Increment(ctx, key, day, limit)
	if err != nil {
		l.log.Error().Err(err).Str("key", key).Msg("rate-limit store unreachable; denying request (fail closed)")
		return Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: reset}, err
	}

	l.cacheSet(key, day, now, count)

	if !applied {
		return Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: reset}, nil
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, Limit: limit, ResetAt: reset}, nil
}

// Peek reports the caller's standing without consuming a slot. Used by the
// quota endpoint so clients can render remaining counts.
func (l *Limiter) Peek(ctx context.Context, id identity.Identity) (Result, error) {
	key := id.Key()
	limit := l.limitFor(id)
	now := l.now()
	day := dayKey(now)
	reset := nextMidnight(now)

	l.mu.Lock()
	if st, ok := l.cache[key]; ok && st.day == day && now.Before(st.windowEnd) {
		count := st.count
		l.mu.Unlock()
		return peekResult(count, limit, reset), nil
	}
	l.mu.Unlock()

	count, found, err := l.store.Count(ctx, key, day)
	if err != nil {
		l.log.Error().Err(err).Str("key", key).Msg("rate-limit store unreachable on peek (fail closed)")
		return Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: reset}, err
	}
	if !found {
		return Result{Allowed: true, Remaining: limit, Limit: limit, ResetAt: reset}, nil
	}
	return peekResult(count, limit, reset), nil
}

func peekResult(count, limit int, reset time.Time) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count < limit, Remaining: remaining, Limit: limit, ResetAt: reset}
}

// fastReject reports whether the cached window already proves the caller is
// over the daily limit. Stale entries (expired window or a different
// calendar day) never reject; they are simply ignored until the store
// reconciles them.
//
// Eviction runs BEFORE the lookup so an expired entry for the requested key
// is dropped rather than consulted.
func (l *Limiter) fastReject(key, day string, now time.Time, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lookupN++
	if l.lookupN >= l.cleanupN {
		for k, st := range l.cache {
			if !now.Before(st.windowEnd) || st.day != day {
				delete(l.cache, k)
			}
		}
		l.lookupN = 0
	}

	st, ok := l.cache[key]
	if !ok || st.day != day || !now.Before(st.windowEnd) {
		return false
	}
	return st.count >= limit
}

// cacheSet reconciles the fast window with the count the store just returned.
func (l *Limiter) cacheSet(key, day string, now time.Time, count int) {
	l.mu.Lock()
	l.cache[key] = &windowState{
		count:     count,
		day:       day,
		windowEnd: now.Add(l.cfg.Window),
	}
	l.mu.Unlock()
}

// dayKey formats the calendar day used to partition counters ("2006-01-02",
// local time).
func dayKey(now time.Time) string { return now.Format("2006-01-02") }

// nextMidnight returns the next local midnight relative to now, which is when
// the daily quota resets.
func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
