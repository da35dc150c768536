package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/giftghost/go-insight-backend/internal/config"
	"github.com/giftghost/go-insight-backend/internal/identity"
)

// memStore is an in-memory CounterStore with the same atomicity contract as
// the persisted one.
type memStore struct {
	mu     sync.Mutex
	counts map[string]int
	calls  int
	err    error
}

func newMemStore() *memStore { return &memStore{counts: make(map[string]int)} }

func (s *memStore) key(key, day string) string { return key + "|" + day }

func (s *memStore) Count(_ context.Context, key, day string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, false, s.err
	}
	c, ok := s.counts[s.key(key, day)]
	return c, ok, nil
}

func (s *memStore) Increment(_ context.Context, key, day string, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, false, s.err
	}
	k := s.key(key, day)
	if s.counts[k] >= limit {
		return s.counts[k], false, nil
	}
	s.counts[k]++
	return s.counts[k], true, nil
}

func newTestLimiter(store CounterStore, anonDaily, userDaily int) *Limiter {
	return New(config.QuotaConfig{
		AnonymousDaily: anonDaily,
		UserDaily:      userDaily,
		Window:         time.Minute,
	}, store, zerolog.Nop())
}

func anonID() identity.Identity {
	return identity.Identity{Kind: identity.KindAnonymous, IP: "1.2.3.4", AnonymousID: "d1"}
}

func TestCheckAndConsume_EnforcesDailyCap(t *testing.T) {
	store := newMemStore()
	l := newTestLimiter(store, 3, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.CheckAndConsume(ctx, anonID())
		if err != nil || !res.Allowed {
			t.Fatalf("request %d: res=%+v err=%v", i, res, err)
		}
		if res.Limit != 3 || res.Remaining != 3-(i+1) {
			t.Fatalf("request %d: unexpected accounting %+v", i, res)
		}
	}

	res, err := l.CheckAndConsume(ctx, anonID())
	if err != nil || res.Allowed {
		t.Fatalf("4th request should be rejected: res=%+v err=%v", res, err)
	}
	if res.Remaining != 0 || res.Limit != 3 {
		t.Fatalf("rejection accounting: %+v", res)
	}
}

func TestCheckAndConsume_AuthenticatedTierIsIndependent(t *testing.T) {
	store := newMemStore()
	l := newTestLimiter(store, 1, 2)
	ctx := context.Background()

	// Exhaust the anonymous quota.
	if res, _ := l.CheckAndConsume(ctx, anonID()); !res.Allowed {
		t.Fatal("anon first request should pass")
	}
	if res, _ := l.CheckAndConsume(ctx, anonID()); res.Allowed {
		t.Fatal("anon second request should be rejected")
	}

	// The authenticated caller has its own counter and higher cap.
	user := identity.Identity{Kind: identity.KindAuthenticated, UserID: "u1"}
	for i := 0; i < 2; i++ {
		if res, _ := l.CheckAndConsume(ctx, user); !res.Allowed {
			t.Fatalf("user request %d should pass", i)
		}
	}
	if res, _ := l.CheckAndConsume(ctx, user); res.Allowed {
		t.Fatal("user third request should be rejected")
	}
}

func TestCheckAndConsume_FastWindowShortCircuitsStore(t *testing.T) {
	store := newMemStore()
	l := newTestLimiter(store, 2, 10)
	ctx := context.Background()

	l.CheckAndConsume(ctx, anonID())
	l.CheckAndConsume(ctx, anonID())
	callsAfterFill := store.calls

	// The cached window now proves the cap is reached: further requests in
	// the same window must not touch the store.
	for i := 0; i < 5; i++ {
		res, err := l.CheckAndConsume(ctx, anonID())
		if err != nil || res.Allowed {
			t.Fatalf("over-cap request allowed: %+v err=%v", res, err)
		}
	}
	if store.calls != callsAfterFill {
		t.Fatalf("store consulted %d extra times during fast rejection", store.calls-callsAfterFill)
	}
}

func TestCheckAndConsume_FailsClosedOnStoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("db down")
	l := newTestLimiter(store, 5, 10)

	res, err := l.CheckAndConsume(context.Background(), anonID())
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Allowed {
		t.Fatalf("fail-closed violated: %+v", res)
	}
	if res.ResetAt.IsZero() {
		t.Fatal("ResetAt must be populated even on failure")
	}
}

func TestCheckAndConsume_DayRolloverResetsQuota(t *testing.T) {
	store := newMemStore()
	l := newTestLimiter(store, 1, 10)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 14, 23, 59, 0, 0, time.Local)
	l.now = func() time.Time { return day1 }

	if res, _ := l.CheckAndConsume(ctx, anonID()); !res.Allowed {
		t.Fatal("first request should pass")
	}
	if res, _ := l.CheckAndConsume(ctx, anonID()); res.Allowed {
		t.Fatal("second request same day should be rejected")
	}

	// Two minutes later it is a new calendar day: a fresh counter applies
	// even though the fast window has not expired.
	l.now = func() time.Time { return day1.Add(2 * time.Minute) }
	if res, _ := l.CheckAndConsume(ctx, anonID()); !res.Allowed {
		t.Fatal("first request of the new day should pass")
	}
}

func TestResetAt_IsNextLocalMidnight(t *testing.T) {
	store := newMemStore()
	l := newTestLimiter(store, 5, 10)

	now := time.Date(2026, 8, 31, 13, 45, 12, 0, time.Local)
	l.now = func() time.Time { return now }

	res, err := l.CheckAndConsume(context.Background(), anonID())
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}
	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local)
	if !res.ResetAt.Equal(want) {
		t.Fatalf("ResetAt = %v; want %v", res.ResetAt, want)
	}
}

func TestCheckAndConsume_ConcurrentNeverOvershoots(t *testing.T) {
	store := newMemStore()
	const limit = 10
	l := newTestLimiter(store, limit, limit)
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 100)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.CheckAndConsume(ctx, anonID())
			if err == nil && res.Allowed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	n := 0
	for range allowed {
		n++
	}
	if n != limit {
		t.Fatalf("admitted %d requests; want exactly %d", n, limit)
	}
}

func TestPeek_DoesNotConsume(t *testing.T) {
	store := newMemStore()
	l := newTestLimiter(store, 2, 10)
	ctx := context.Background()

	res, err := l.Peek(ctx, anonID())
	if err != nil || !res.Allowed || res.Remaining != 2 {
		t.Fatalf("fresh peek: %+v err=%v", res, err)
	}

	l.CheckAndConsume(ctx, anonID())
	res, err = l.Peek(ctx, anonID())
	if err != nil || res.Remaining != 1 {
		t.Fatalf("peek after one consume: %+v err=%v", res, err)
	}

	// Peeking again must not change anything.
	res, _ = l.Peek(ctx, anonID())
	if res.Remaining != 1 {
		t.Fatalf("peek consumed a slot: %+v", res)
	}
}
