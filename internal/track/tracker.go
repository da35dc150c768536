// Package track implements the best-effort, batched, at-least-once analytics
// pipeline. This file contains the Tracker itself.
//
// Callers fire events with Track()/TrackAs() and never wait: delivery runs on
// the tracker's own schedule (a size threshold or a periodic timer), and
// failures are swallowed-and-logged, never bubbled into the user-facing flow.
//
// Delivery is at-least-once: a failed flush re-queues the whole batch at the
// front of the queue, so duplicates are possible on retry but nothing is
// silently lost while the queue has room. The queue is bounded; past the cap
// the oldest events are dropped and counted, which bounds memory when the
// sink is down for a long time.
//
// The Tracker is an explicitly constructed, dependency-injected object owned
// by the composition root — not a hidden singleton — so tests substitute a
// fake Sink.
package track

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/giftghost/go-insight-backend/internal/config"
)

var (
	// trackEnqueued counts events accepted into the queue.
	trackEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_events_enqueued_total",
		Help: "Total number of analytics events enqueued.",
	})

	// trackFlushed counts events successfully delivered to the sink.
	trackFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_events_flushed_total",
		Help: "Total number of analytics events delivered.",
	})

	// trackFlushFailures counts failed flush attempts (batch re-queued).
	trackFlushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_flush_failures_total",
		Help: "Total number of failed flush attempts.",
	})

	// trackDropped counts events dropped because the bounded queue was full.
	trackDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_events_dropped_total",
		Help: "Total number of analytics events dropped on queue overflow.",
	})
)

func init() {
	prometheus.MustRegister(trackEnqueued, trackFlushed, trackFlushFailures, trackDropped)
}

// Event is one queued analytics event, already sanitized.
type Event struct {
	Name        string         `json:"name"`
	Properties  map[string]any `json:"properties,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	SessionID   string         `json:"session_id"`
	AnonymousID string         `json:"anonymous_id"`
}

// Sink delivers a batch of events. A non-nil error re-queues the entire batch
// for a later attempt; implementations must therefore tolerate duplicate
// delivery of the same events.
type Sink interface {
	Deliver(ctx context.Context, events []Event) error
}

// Tracker is the batched event pipeline. Safe for concurrent use; Track()
// never blocks on I/O.
type Tracker struct {
	cfg  config.TrackerConfig
	sink Sink
	log  zerolog.Logger

	// Defaults stamped on events that carry no explicit correlation ids.
	// The server-side tracker uses "server"/"unknown" (original behavior);
	// request-scoped code passes real ids through TrackAs.
	sessionID   string
	anonymousID string

	now func() time.Time

	mu       sync.Mutex
	queue    []Event
	flushing bool

	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	// flushWG joins threshold-triggered flush goroutines so Close can wait
	// them out before its final drain.
	flushWG sync.WaitGroup
}

// New constructs a Tracker over the given sink. Call Start to begin the
// periodic flush loop and Close on shutdown.
func New(cfg config.TrackerConfig, sink Sink, log zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:         cfg,
		sink:        sink,
		log:         log,
		sessionID:   "server",
		anonymousID: "unknown",
		now:         time.Now,
		stop:        make(chan struct{}),
	}
}

// Start launches the periodic flush loop. Without it the tracker still
// flushes on the batch-size threshold; the timer exists so a trickle of
// events is not stranded in the queue.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.flush()
			case <-t.stop:
				return
			}
		}
	}()
}

// Close stops the flush loop, waits out any threshold-triggered flush still
// in flight, and then drains the queue: delivery is retried as long as an
// attempt makes progress, so a batch re-queued by an in-flight failure gets
// one more chance before process exit. Safe to call more than once.
func (t *Tracker) Close() {
	t.stopped.Do(func() { close(t.stop) })
	t.wg.Wait()
	t.flushWG.Wait()
	for prev := -1; ; {
		n := t.QueueLen()
		if n == 0 || n == prev {
			return
		}
		prev = n
		t.flush()
	}
}

// Track enqueues an event under the tracker's default correlation ids.
// Fire-and-forget: it returns immediately and delivery failures are handled
// on the tracker's own schedule.
func (t *Tracker) Track(name string, props map[string]any) {
	t.TrackAs(t.sessionID, t.anonymousID, name, props)
}

// TrackAs enqueues an event tagged with explicit session and anonymous ids,
// used by request-scoped code that knows the caller's correlation cookies.
// Empty ids fall back to the tracker defaults.
func (t *Tracker) TrackAs(sessionID, anonymousID, name string, props map[string]any) {
	if sessionID == "" {
		sessionID = t.sessionID
	}
	if anonymousID == "" {
		anonymousID = t.anonymousID
	}
	ev := Event{
		Name:        name,
		Properties:  SanitizeProperties(props),
		Timestamp:   t.now(),
		SessionID:   sessionID,
		AnonymousID: anonymousID,
	}

	t.mu.Lock()
	t.queue = append(t.queue, ev)
	trackEnqueued.Inc()
	if over := len(t.queue) - t.cfg.QueueCap; over > 0 {
		// Bounded queue: shed the oldest events first.
		t.queue = t.queue[over:]
		trackDropped.Add(float64(over))
		t.log.Warn().Int("dropped", over).Msg("tracker queue full, oldest events dropped")
	}
	shouldFlush := len(t.queue) >= t.cfg.BatchSize
	t.mu.Unlock()

	if shouldFlush {
		t.flushWG.Add(1)
		go func() {
			defer t.flushWG.Done()
			t.flush()
		}()
	}
}

// Flush forces an immediate delivery attempt. Used on shutdown and by tests.
func (t *Tracker) Flush() { t.flush() }

// QueueLen reports the current number of buffered events.
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// flush drains the queue and hands the batch to the sink. Only one flush runs
// at a time; the size-threshold and timer triggers collapse onto it. On sink
// failure the batch goes back to the FRONT of the queue so ordering is
// preserved for the retry.
func (t *Tracker) flush() {
	t.mu.Lock()
	if t.flushing || len(t.queue) == 0 {
		t.mu.Unlock()
		return
	}
	t.flushing = true
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := t.sink.Deliver(ctx, batch)
	cancel()

	t.mu.Lock()
	t.flushing = false
	if err != nil {
		trackFlushFailures.Inc()
		t.queue = append(batch, t.queue...)
		if over := len(t.queue) - t.cfg.QueueCap; over > 0 {
			t.queue = t.queue[over:]
			trackDropped.Add(float64(over))
		}
		t.mu.Unlock()
		t.log.Warn().Err(err).Int("batch", len(batch)).Msg("event flush failed, batch re-queued")
		return
	}
	trackFlushed.Add(float64(len(batch)))
	t.mu.Unlock()
}
