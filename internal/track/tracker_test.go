package track

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/giftghost/go-insight-backend/internal/config"
)

// captureSink records delivered batches and can be told to fail.
type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
	failN   int // fail this many deliveries before succeeding
}

func (s *captureSink) Deliver(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("sink unavailable")
	}
	cp := make([]Event, len(events))
	copy(cp, events)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *captureSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func testTrackerCfg() config.TrackerConfig {
	return config.TrackerConfig{BatchSize: 3, FlushInterval: time.Hour, QueueCap: 10}
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestTrack_FiresAndForgets(t *testing.T) {
	sink := &captureSink{}
	tr := New(testTrackerCfg(), sink, zerolog.Nop())

	tr.Track("page_view", map[string]any{"path": "/"})
	if got := tr.QueueLen(); got != 1 {
		t.Fatalf("QueueLen = %d; want 1", got)
	}
	// Below the batch threshold nothing is delivered yet.
	if sink.delivered() != 0 {
		t.Fatal("delivery before threshold")
	}
}

func TestTrack_BatchThresholdTriggersFlush(t *testing.T) {
	sink := &captureSink{}
	tr := New(testTrackerCfg(), sink, zerolog.Nop())

	for i := 0; i < 3; i++ {
		tr.Track("evt", nil)
	}
	waitFor(t, func() bool { return sink.delivered() == 3 }, "threshold flush never delivered")
	if got := tr.QueueLen(); got != 0 {
		t.Fatalf("queue not drained: %d", got)
	}
}

func TestTrackAs_StampsCorrelationIDs(t *testing.T) {
	sink := &captureSink{}
	tr := New(testTrackerCfg(), sink, zerolog.Nop())

	tr.TrackAs("sess-1", "anon-1", "session_start", nil)
	tr.TrackAs("", "", "server_event", nil) // falls back to defaults
	tr.Flush()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("unexpected batches: %+v", sink.batches)
	}
	a, b := sink.batches[0][0], sink.batches[0][1]
	if a.SessionID != "sess-1" || a.AnonymousID != "anon-1" {
		t.Fatalf("explicit ids lost: %+v", a)
	}
	if b.SessionID != "server" || b.AnonymousID != "unknown" {
		t.Fatalf("default ids wrong: %+v", b)
	}
	if a.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}
}

func TestFlush_FailureRequeuesAtFront(t *testing.T) {
	sink := &captureSink{failN: 1}
	tr := New(testTrackerCfg(), sink, zerolog.Nop())

	tr.Track("first", nil)
	tr.Track("second", nil)
	tr.Flush() // fails, batch goes back to the front

	if got := tr.QueueLen(); got != 2 {
		t.Fatalf("failed batch not re-queued: QueueLen = %d", got)
	}

	// Enqueue one more, then flush successfully: order must be preserved.
	// (Reaching the batch threshold may also have kicked off an async flush;
	// either one delivers the whole queue.)
	tr.Track("third", nil)
	tr.Flush()
	waitFor(t, func() bool { return sink.delivered() == 3 }, "retry flush never delivered")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 1 {
		t.Fatalf("batches = %d; want 1", len(sink.batches))
	}
	names := []string{}
	for _, ev := range sink.batches[0] {
		names = append(names, ev.Name)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v; want %v", names, want)
		}
	}
}

func TestTrack_QueueCapDropsOldest(t *testing.T) {
	sink := &captureSink{failN: 1 << 30} // sink permanently down
	cfg := config.TrackerConfig{BatchSize: 100, FlushInterval: time.Hour, QueueCap: 5}
	tr := New(cfg, sink, zerolog.Nop())

	for i := 0; i < 8; i++ {
		tr.Track("evt", map[string]any{"i": i})
	}
	if got := tr.QueueLen(); got != 5 {
		t.Fatalf("QueueLen = %d; want cap 5", got)
	}

	// The oldest three were shed; the head of the queue is now i=3.
	tr.mu.Lock()
	head := tr.queue[0].Properties["i"]
	tr.mu.Unlock()
	if head != 3 {
		t.Fatalf("head = %v; want 3", head)
	}
}

func TestClose_FlushesRemainder(t *testing.T) {
	sink := &captureSink{}
	tr := New(testTrackerCfg(), sink, zerolog.Nop())
	tr.Start()

	tr.Track("tail", nil)
	tr.Close()

	if sink.delivered() != 1 {
		t.Fatalf("delivered = %d; want final flush of 1", sink.delivered())
	}
	// Close is idempotent.
	tr.Close()
}

func TestClose_DrainsBatchRequeuedByInFlightFailure(t *testing.T) {
	// The first delivery fails, so the threshold-triggered flush re-queues
	// its batch. Close must wait that flush out and retry the delivery
	// rather than returning with the batch stranded.
	sink := &captureSink{failN: 1}
	cfg := config.TrackerConfig{BatchSize: 2, FlushInterval: time.Hour, QueueCap: 10}
	tr := New(cfg, sink, zerolog.Nop())

	tr.Track("first", nil)
	tr.Track("second", nil) // threshold flush kicks off and fails
	tr.Close()

	if got := sink.delivered(); got != 2 {
		t.Fatalf("delivered = %d; want both events drained on close", got)
	}
	if got := tr.QueueLen(); got != 0 {
		t.Fatalf("QueueLen = %d after close", got)
	}
}

func TestClose_StopsRetryingWithoutProgress(t *testing.T) {
	// A permanently failing sink must not hang shutdown: once an attempt
	// makes no progress, Close gives up and leaves the batch behind.
	sink := &captureSink{failN: 1 << 30}
	cfg := config.TrackerConfig{BatchSize: 100, FlushInterval: time.Hour, QueueCap: 10}
	tr := New(cfg, sink, zerolog.Nop())

	tr.Track("doomed", nil)
	done := make(chan struct{})
	go func() {
		tr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a dead sink")
	}
	if got := tr.QueueLen(); got != 1 {
		t.Fatalf("QueueLen = %d; want the undeliverable event retained", got)
	}
}

func TestStart_TimerFlushesTrickle(t *testing.T) {
	sink := &captureSink{}
	cfg := config.TrackerConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond, QueueCap: 100}
	tr := New(cfg, sink, zerolog.Nop())
	tr.Start()
	defer tr.Close()

	tr.Track("lonely", nil)
	waitFor(t, func() bool { return sink.delivered() == 1 }, "timer flush never delivered")
}
