// Package counting turns crossing events into the visitor count. It
// applies the direction filter, deduplicates per track lifetime, and
// hands accepted events to a persistence sink with bounded retries.
package counting

import (
	"context"
	"sync"
	"time"

	"github.com/gatesense/footfall/internal/monitoring"
	"github.com/gatesense/footfall/internal/vision"
	"github.com/gatesense/footfall/internal/vision/crossing"
)

// CountEvent is one accepted, counted crossing.
type CountEvent struct {
	TrackID    string           `json:"track_id"`
	FrameIndex int64            `json:"frame"`
	Timestamp  time.Time        `json:"timestamp"`
	Direction  vision.Direction `json:"direction"`
	// RunningTotal is the filtered visitor count immediately after this
	// event was accepted.
	RunningTotal int64 `json:"running_total"`
}

// Sink persists accepted count events. Implementations must be safe to
// call from the pipeline goroutine; a failed write is retried by the
// counter, so Record should be idempotent-friendly (the counter never
// re-submits an event it has seen succeed).
type Sink interface {
	Record(ctx context.Context, ev CountEvent) error
}

// Gate is the per-track counting latch, satisfied by the tracker.
// MarkCounted must return true exactly once per track lifetime.
type Gate interface {
	MarkCounted(trackID string) bool
}

// Totals is a snapshot of the counter's running state.
type Totals struct {
	Counted       int64 `json:"counted"` // filtered running total
	LeftToRight   int64 `json:"left_to_right"`
	RightToLeft   int64 `json:"right_to_left"`
	Filtered      int64 `json:"filtered_out"`   // crossings rejected by direction
	Deduplicated  int64 `json:"deduplicated"`   // crossings rejected by the per-track latch
	PendingWrites int   `json:"pending_writes"` // sink writes awaiting retry
	DroppedWrites int64 `json:"dropped_writes"` // sink writes abandoned after the retry budget
}

type pendingWrite struct {
	ev       CountEvent
	attempts int
}

// Counter owns the visitor count. Count state advances when a crossing is
// accepted and is never rolled back, even if the sink write ultimately
// fails; the in-memory count remains the authority for the session.
//
// Crossings are handled from the single pipeline goroutine; the mutex
// exists so Totals can be snapshotted from API handlers.
type Counter struct {
	required     vision.Direction
	gate         Gate
	sink         Sink
	maxRetries   int
	retryBackoff time.Duration

	mu          sync.Mutex
	totals      Totals
	pending     []pendingWrite
	nextRetryAt time.Time
}

// NewCounter creates a counter filtering on the required direction.
// sink may be nil to count without persistence. Failed sink writes are
// retried up to maxRetries times, waiting at least retryBackoff between
// attempts.
func NewCounter(required vision.Direction, gate Gate, sink Sink, maxRetries int, retryBackoff time.Duration) *Counter {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryBackoff < 0 {
		retryBackoff = 0
	}
	return &Counter{
		required:     required,
		gate:         gate,
		sink:         sink,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
}

// HandleCrossing applies the direction filter and the per-track dedup
// latch to a crossing. Returns the count event and true when the crossing
// was counted. Not safe for concurrent use; call from the pipeline
// goroutine only.
func (c *Counter) HandleCrossing(ctx context.Context, ev crossing.Event) (CountEvent, bool) {
	if !c.required.Matches(ev.Direction) {
		c.mu.Lock()
		c.totals.Filtered++
		c.mu.Unlock()
		return CountEvent{}, false
	}
	if !c.gate.MarkCounted(ev.TrackID) {
		c.mu.Lock()
		c.totals.Deduplicated++
		c.mu.Unlock()
		return CountEvent{}, false
	}

	c.mu.Lock()
	c.totals.Counted++
	switch ev.Direction {
	case vision.DirectionLeftToRight:
		c.totals.LeftToRight++
	case vision.DirectionRightToLeft:
		c.totals.RightToLeft++
	}
	total := c.totals.Counted
	c.mu.Unlock()

	out := CountEvent{
		TrackID:      ev.TrackID,
		FrameIndex:   ev.FrameIndex,
		Timestamp:    ev.Timestamp,
		Direction:    ev.Direction,
		RunningTotal: total,
	}
	c.record(ctx, out)
	return out, true
}

// record attempts the sink write, queueing for retry on failure.
func (c *Counter) record(ctx context.Context, ev CountEvent) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Record(ctx, ev); err != nil {
		monitoring.Logf("counting: sink write failed for track %s (will retry): %v", ev.TrackID, err)
		c.enqueue(pendingWrite{ev: ev, attempts: 1})
	}
}

func (c *Counter) enqueue(w pendingWrite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.attempts > c.maxRetries {
		c.totals.DroppedWrites++
		monitoring.Logf("counting: dropping sink write for track %s after %d attempts", w.ev.TrackID, w.attempts)
		return
	}
	c.pending = append(c.pending, w)
	c.nextRetryAt = time.Now().Add(c.retryBackoff)
}

// FlushRetries retries pending sink writes once the retry backoff has
// elapsed since the last failed attempt. Writes that exceed the retry
// budget are dropped and surfaced in Totals; the count itself is
// unaffected. Called once per pipeline tick.
func (c *Counter) FlushRetries(ctx context.Context) {
	if c.sink == nil {
		return
	}
	c.mu.Lock()
	if len(c.pending) == 0 || time.Now().Before(c.nextRetryAt) {
		c.mu.Unlock()
		return
	}
	queue := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, w := range queue {
		if err := c.sink.Record(ctx, w.ev); err != nil {
			w.attempts++
			c.enqueue(w)
		}
	}
}

// Totals returns a snapshot of the running counters.
func (c *Counter) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.totals
	t.PendingWrites = len(c.pending)
	return t
}

// RequiredDirection returns the configured direction filter.
func (c *Counter) RequiredDirection() vision.Direction { return c.required }
