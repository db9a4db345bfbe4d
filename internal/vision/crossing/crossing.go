// Package crossing decides whether a track's latest motion segment
// crossed the configured virtual line, and in which direction.
//
// The test is a strict segment intersection: grazing the line, touching
// it and retreating, or moving along it never registers as a crossing.
// A centroid that lands exactly on the line resolves on a later frame.
// The analyzer remembers each track's last position strictly beside the
// line and fires once the track ends up strictly on the other side,
// attributing the crossing to that frame.
package crossing

import (
	"fmt"
	"time"

	"github.com/gatesense/footfall/internal/vision"
)

// VirtualLine is the directed counting line A→B in frame coordinates.
// Direction semantics are relative to this orientation: walking A→B,
// right-to-left motion crosses from the observer's right side to the left.
type VirtualLine struct {
	A, B vision.Point
}

// NewVirtualLine builds a counting line, rejecting degenerate endpoints.
// A zero-length line has no sides, so there is nothing to count against.
func NewVirtualLine(a, b vision.Point) (VirtualLine, error) {
	if a.X == b.X && a.Y == b.Y {
		return VirtualLine{}, fmt.Errorf("degenerate virtual line: both endpoints at (%.1f, %.1f)", a.X, a.Y)
	}
	return VirtualLine{A: a, B: b}, nil
}

// Side returns the strict side of the line that p lies on: +1, -1, or 0
// when p is exactly on the infinite line through A and B.
func (l VirtualLine) Side(p vision.Point) int {
	d := l.B.Sub(l.A).Cross(p.Sub(l.A))
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}

// Event is one detected line crossing.
type Event struct {
	TrackID    string
	FrameIndex int64
	Timestamp  time.Time
	Direction  vision.Direction
	// From and To are the motion segment endpoints that produced the
	// crossing.
	From, To vision.Point
}

// Analyzer evaluates motion segments against one virtual line. It keeps
// one sideMark per track so an on-line sample does not swallow the
// crossing; deduplication is the counter's job. Not safe for concurrent
// use; call from the pipeline goroutine only.
type Analyzer struct {
	line VirtualLine
	last map[string]sideMark
}

// sideMark is a track's most recent position strictly beside the line.
type sideMark struct {
	point vision.Point
	side  int
}

// NewAnalyzer creates an analyzer for the given line.
func NewAnalyzer(line VirtualLine) *Analyzer {
	return &Analyzer{line: line, last: make(map[string]sideMark)}
}

// Line returns the analyzer's virtual line.
func (a *Analyzer) Line() VirtualLine { return a.line }

// Evaluate tests the track's motion against the line. The evaluated
// segment normally runs from→to, but when an earlier sample landed
// exactly on the line it reaches back to the track's last strictly-sided
// position, so an exact touch still counts on the frame that ends up
// strictly on the far side. ok is false when nothing crossed: staying on
// one side, touching the line and retreating, collinear motion, and
// crossings outside the A-B span all resolve to no crossing.
func (a *Analyzer) Evaluate(trackID string, from, to vision.Point, frameIndex int64, ts time.Time) (Event, bool) {
	ref, seen := a.last[trackID]
	if !seen {
		if s := a.line.Side(from); s != 0 {
			ref, seen = sideMark{point: from, side: s}, true
		}
	}

	sideTo := a.line.Side(to)
	if sideTo == 0 {
		// On the line: hold the reference and resolve on a later frame.
		if seen {
			a.last[trackID] = ref
		}
		return Event{}, false
	}
	a.last[trackID] = sideMark{point: to, side: sideTo}
	if !seen || ref.side == sideTo {
		return Event{}, false
	}

	// The reference and to straddle the infinite line; now require the
	// crossing point to fall within the segment A-B. Same strict
	// orientation test with the roles swapped.
	motion := to.Sub(ref.point)
	dA := motion.Cross(a.line.A.Sub(ref.point))
	dB := motion.Cross(a.line.B.Sub(ref.point))
	if dA == 0 || dB == 0 || (dA > 0) == (dB > 0) {
		return Event{}, false
	}

	dir := vision.DirectionLeftToRight
	if a.line.B.Sub(a.line.A).Cross(motion) > 0 {
		dir = vision.DirectionRightToLeft
	}

	return Event{
		TrackID:    trackID,
		FrameIndex: frameIndex,
		Timestamp:  ts,
		Direction:  dir,
		From:       ref.point,
		To:         to,
	}, true
}

// Forget drops the per-track side state. Call when a track terminates so
// a reused ID starts fresh.
func (a *Analyzer) Forget(trackID string) {
	delete(a.last, trackID)
}
