// Package pipeline wires the counting stages together: it pulls frames
// from a detection source, runs the tracker, evaluates confirmed tracks
// against the virtual line, and feeds crossings to the counter.
//
// One frame is one tick. All stages run synchronously on the runner
// goroutine, so replaying the same detection log always produces the same
// counts.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatesense/footfall/internal/vision"
	"github.com/gatesense/footfall/internal/vision/counting"
	"github.com/gatesense/footfall/internal/vision/crossing"
	"github.com/gatesense/footfall/internal/vision/detect"
	"github.com/gatesense/footfall/internal/vision/track"
)

// Stats are cumulative runner counters. Snapshots are safe to read while
// the runner is live.
type Stats struct {
	FramesConsumed  int64 `json:"frames_consumed"`
	FramesProcessed int64 `json:"frames_processed"`
	FramesThrottled int64 `json:"frames_throttled"`
	GapFrames       int64 `json:"gap_frames"` // indices skipped by the source
	Crossings       int64 `json:"crossings"`  // strict line crossings observed

	LastFrameIndex     int64 `json:"last_frame_index"`
	LastFrameUnixNanos int64 `json:"last_frame_unix_nanos"`
}

// Runner drives the counting pipeline over one detection source.
type Runner struct {
	// SessionID identifies one pipeline run in persisted rows and export
	// filenames.
	SessionID string
	StartedAt time.Time

	src      detect.Source
	tracker  *track.Tracker
	analyzer *crossing.Analyzer
	counter  *counting.Counter

	// minFrameInterval throttles processing; frames arriving closer
	// together than this (by their own timestamps) are skipped. Zero
	// processes every frame.
	minFrameInterval time.Duration

	// trackSink, when set, receives the final snapshot of every
	// terminated track. Failures are logged and dropped; summaries are
	// advisory, not part of the count.
	trackSink TrackSink

	mu    sync.RWMutex
	stats Stats
}

// TrackSink receives final track snapshots for summary persistence.
type TrackSink interface {
	RecordTrackSummary(ctx context.Context, t track.Track) error
}

// NewRunner assembles a pipeline. maxTickRate caps processed frames per
// second; zero or negative disables throttling.
func NewRunner(src detect.Source, tk *track.Tracker, an *crossing.Analyzer, ct *counting.Counter, maxTickRate float64) *Runner {
	var minInterval time.Duration
	if maxTickRate > 0 {
		minInterval = time.Duration(float64(time.Second) / maxTickRate)
	}
	return &Runner{
		SessionID:        uuid.NewString(),
		StartedAt:        time.Now().UTC(),
		src:              src,
		tracker:          tk,
		analyzer:         an,
		counter:          ct,
		minFrameInterval: minInterval,
	}
}

// SetTrackSink installs the terminated-track summary sink. Call before
// Run.
func (r *Runner) SetTrackSink(s TrackSink) { r.trackSink = s }

// Run consumes the source until it drains or ctx is cancelled. A drained
// source and a cancelled context are both clean shutdowns; any other
// source error is fatal and returned.
func (r *Runner) Run(ctx context.Context) error {
	diagf("pipeline session %s starting (line %v -> %v, direction %s)",
		r.SessionID, r.analyzer.Line().A, r.analyzer.Line().B, r.counter.RequiredDirection())

	var lastProcessedNanos int64 = -1
	seenFrame := false

	for {
		frame, err := r.src.Next(ctx)
		if err != nil {
			r.counter.FlushRetries(context.WithoutCancel(ctx))
			switch {
			case errors.Is(err, detect.ErrSourceDrained):
				diagf("pipeline session %s: source drained after %d frames", r.SessionID, r.statsSnapshot().FramesConsumed)
				return nil
			case errors.Is(err, context.Canceled):
				diagf("pipeline session %s: cancelled", r.SessionID)
				return nil
			default:
				opsf("pipeline session %s: source error: %v", r.SessionID, err)
				return err
			}
		}

		r.mu.Lock()
		r.stats.FramesConsumed++
		if seenFrame && frame.FrameIndex > r.stats.LastFrameIndex+1 {
			gap := frame.FrameIndex - r.stats.LastFrameIndex - 1
			r.stats.GapFrames += gap
			diagf("frame gap: %d missing before frame %d", gap, frame.FrameIndex)
		}
		seenFrame = true
		r.stats.LastFrameIndex = frame.FrameIndex
		r.stats.LastFrameUnixNanos = frame.UnixNanos
		r.mu.Unlock()

		// Throttle on frame timestamps, not wall clock, so a replayed log
		// throttles identically to the live run it was captured from.
		if r.minFrameInterval > 0 && lastProcessedNanos >= 0 &&
			time.Duration(frame.UnixNanos-lastProcessedNanos) < r.minFrameInterval {
			r.mu.Lock()
			r.stats.FramesThrottled++
			r.mu.Unlock()
			for _, t := range r.tracker.AdvanceMisses(frame.FrameIndex, frame.UnixNanos) {
				diagf("track %s terminated while throttled", t.TrackID)
				r.analyzer.Forget(t.TrackID)
				r.recordSummary(ctx, t)
			}
			continue
		}
		lastProcessedNanos = frame.UnixNanos

		r.tick(ctx, frame)
	}
}

// tick runs one full pipeline pass over a frame.
func (r *Runner) tick(ctx context.Context, frame detect.FrameDetections) {
	result := r.tracker.Update(frame)

	tracef("frame %d: %d detections, %d matched, %d started, %d terminated",
		frame.FrameIndex, len(frame.Detections), len(result.Matched), len(result.Started), len(result.Terminated))
	for _, t := range result.Terminated {
		diagf("track %s terminated (%d hits over %d frames)", t.TrackID, t.Hits, t.LastSeenFrame-t.FirstFrame+1)
		r.analyzer.Forget(t.TrackID)
		r.recordSummary(ctx, t)
	}

	ts := frame.Time()
	for _, obs := range result.Matched {
		if obs.State != track.StateConfirmed || !obs.HasSegment {
			continue
		}
		from := vision.Point{X: obs.Prev.X, Y: obs.Prev.Y}
		to := vision.Point{X: obs.Curr.X, Y: obs.Curr.Y}
		ev, ok := r.analyzer.Evaluate(obs.TrackID, from, to, frame.FrameIndex, ts)
		if !ok {
			continue
		}

		r.mu.Lock()
		r.stats.Crossings++
		r.mu.Unlock()

		if ce, counted := r.counter.HandleCrossing(ctx, ev); counted {
			opsf("visitor counted: track %s crossed %s at frame %d (total %d)",
				ce.TrackID, ce.Direction, ce.FrameIndex, ce.RunningTotal)
		} else {
			diagf("crossing rejected: track %s direction %s at frame %d",
				ev.TrackID, ev.Direction, ev.FrameIndex)
		}
	}

	r.counter.FlushRetries(ctx)

	r.mu.Lock()
	r.stats.FramesProcessed++
	r.mu.Unlock()
}

func (r *Runner) recordSummary(ctx context.Context, t track.Track) {
	if r.trackSink == nil {
		return
	}
	if err := r.trackSink.RecordTrackSummary(ctx, t); err != nil {
		opsf("track summary write failed for %s: %v", t.TrackID, err)
	}
}

func (r *Runner) statsSnapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats { return r.statsSnapshot() }

// Totals returns the counter's running totals.
func (r *Runner) Totals() counting.Totals { return r.counter.Totals() }

// TrackerStats returns the tracker's cumulative counters.
func (r *Runner) TrackerStats() track.Stats { return r.tracker.Stats() }

// ActiveTracks returns a deep-copy snapshot of the live tracks.
func (r *Runner) ActiveTracks() []track.Track { return r.tracker.ActiveTracks() }
