package detect

import (
	"context"
	"errors"
	"sync"
)

// Source yields detection sets for consecutive frames in strict capture
// order. Next blocks until a frame is available, the source is exhausted
// (io.EOF semantics via ErrSourceDrained), or ctx is cancelled.
//
// Implementations must deliver monotonically increasing frame indices.
// Gaps are permitted (a dropped frame shows up as a skipped index and is
// accounted for by the pipeline) but reordering is not.
type Source interface {
	Next(ctx context.Context) (FrameDetections, error)
}

// ErrSourceDrained is returned by Next when the source has delivered its
// final frame. The pipeline treats it as a clean end-of-stream.
var ErrSourceDrained = errors.New("detection source drained")

// ChannelSource adapts a push-style producer (e.g. a goroutine reading an
// inference sidecar) to the pull-style Source interface with a bounded
// buffer. When the buffer is full the producer either blocks (Push,
// backpressure on capture) or drops the frame and records the gap
// (TryPush). Frames are never reordered.
type ChannelSource struct {
	ch chan FrameDetections

	mu      sync.Mutex
	dropped int64
	closed  bool
}

// NewChannelSource creates a ChannelSource with the given buffer capacity.
func NewChannelSource(capacity int) *ChannelSource {
	if capacity < 1 {
		capacity = 1
	}
	return &ChannelSource{ch: make(chan FrameDetections, capacity)}
}

// Push delivers a frame, blocking while the buffer is full. This is the
// backpressure path: capture stalls rather than reordering or silently
// losing frames.
func (s *ChannelSource) Push(ctx context.Context, f FrameDetections) error {
	select {
	case s.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush delivers a frame if buffer space is available, otherwise drops
// it and records the drop. The skipped frame index surfaces downstream as
// an explicit gap.
func (s *ChannelSource) TryPush(f FrameDetections) bool {
	select {
	case s.ch <- f:
		return true
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return false
	}
}

// Dropped returns the number of frames discarded by TryPush.
func (s *ChannelSource) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close marks the producer side finished. Next drains buffered frames and
// then returns ErrSourceDrained.
func (s *ChannelSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Next implements Source.
func (s *ChannelSource) Next(ctx context.Context) (FrameDetections, error) {
	select {
	case f, ok := <-s.ch:
		if !ok {
			return FrameDetections{}, ErrSourceDrained
		}
		return f, nil
	case <-ctx.Done():
		return FrameDetections{}, ctx.Err()
	}
}
