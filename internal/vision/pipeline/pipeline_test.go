package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatesense/footfall/internal/vision"
	"github.com/gatesense/footfall/internal/vision/counting"
	"github.com/gatesense/footfall/internal/vision/crossing"
	"github.com/gatesense/footfall/internal/vision/detect"
	"github.com/gatesense/footfall/internal/vision/track"
)

// sliceSource serves a fixed frame sequence then drains.
type sliceSource struct {
	frames []detect.FrameDetections
	next   int
}

func (s *sliceSource) Next(ctx context.Context) (detect.FrameDetections, error) {
	if err := ctx.Err(); err != nil {
		return detect.FrameDetections{}, err
	}
	if s.next >= len(s.frames) {
		return detect.FrameDetections{}, detect.ErrSourceDrained
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func testTrackerConfig() track.Config {
	return track.Config{
		MaxAssociationCost:     0.7,
		MaxCentroidDistancePx:  50,
		HitsToConfirm:          3,
		MaxMisses:              3,
		MaxAgeWithoutDetection: 20,
		ExitTimeout:            time.Minute,
		TrajectoryLength:       16,
		MaxTracks:              16,
	}
}

// testLine is a vertical counting line at x=100 spanning the frame.
func testLine(t *testing.T) *crossing.Analyzer {
	t.Helper()
	l, err := crossing.NewVirtualLine(vision.Point{X: 100, Y: 0}, vision.Point{X: 100, Y: 400})
	require.NoError(t, err)
	return crossing.NewAnalyzer(l)
}

func personAt(cx, cy float64) detect.Detection {
	return detect.Detection{
		BBox:       vision.BBox{X1: cx - 20, Y1: cy - 45, X2: cx + 20, Y2: cy + 45},
		Confidence: 0.9,
		Class:      detect.ClassPerson,
	}
}

// walkerFrames builds n frames of one walker starting at x0 and moving vx
// per frame at height y. Frames are 100ms apart.
func walkerFrames(n int, x0, vx, y float64) []detect.FrameDetections {
	frames := make([]detect.FrameDetections, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, detect.FrameDetections{
			FrameIndex: int64(i),
			UnixNanos:  int64(i) * int64(100*time.Millisecond),
			Detections: []detect.Detection{personAt(x0+vx*float64(i), y)},
		})
	}
	return frames
}

func newTestRunner(t *testing.T, src detect.Source, required vision.Direction, sink counting.Sink) (*Runner, *counting.Counter) {
	t.Helper()
	tk := track.NewTracker(testTrackerConfig())
	ct := counting.NewCounter(required, tk, sink, 2, 0)
	return NewRunner(src, tk, testLine(t), ct, 0), ct
}

func TestRunnerCountsSingleCrossing(t *testing.T) {
	t.Parallel()

	// Walker moves right-to-left from x=185 at -10px/frame, crossing
	// x=100 between frames 8 and 9, well after confirmation.
	src := &sliceSource{frames: walkerFrames(16, 185, -10, 200)}
	runner, ct := newTestRunner(t, src, vision.DirectionRightToLeft, nil)

	require.NoError(t, runner.Run(context.Background()))

	totals := ct.Totals()
	assert.Equal(t, int64(1), totals.Counted)
	assert.Equal(t, int64(1), totals.RightToLeft)
	assert.Equal(t, int64(16), runner.Stats().FramesConsumed)
	assert.Equal(t, int64(16), runner.Stats().FramesProcessed)
}

func TestRunnerCountsWalkerLandingOnLine(t *testing.T) {
	t.Parallel()

	// Integer-pixel walker whose centroid lands exactly on x=100 at frame
	// 5 before continuing left. The crossing resolves on the next frame,
	// when the track is strictly past the line.
	src := &sliceSource{frames: walkerFrames(12, 140, -8, 200)}
	runner, ct := newTestRunner(t, src, vision.DirectionRightToLeft, nil)

	require.NoError(t, runner.Run(context.Background()))

	totals := ct.Totals()
	assert.Equal(t, int64(1), totals.Counted)
	assert.Equal(t, int64(1), totals.RightToLeft)
	assert.Equal(t, int64(1), runner.Stats().Crossings)
}

func TestRunnerFiltersDirection(t *testing.T) {
	t.Parallel()

	// Walker moves left-to-right; required direction is right-to-left.
	src := &sliceSource{frames: walkerFrames(16, 25, 10, 200)}
	runner, ct := newTestRunner(t, src, vision.DirectionRightToLeft, nil)

	require.NoError(t, runner.Run(context.Background()))

	totals := ct.Totals()
	assert.Equal(t, int64(0), totals.Counted)
	assert.Equal(t, int64(1), totals.Filtered)
	assert.Equal(t, int64(1), runner.Stats().Crossings)
}

func TestRunnerCountsOncePerTrackLifetime(t *testing.T) {
	t.Parallel()

	// Walker crosses right-to-left, turns around, crosses back, and
	// crosses right-to-left again: still one count.
	var frames []detect.FrameDetections
	xs := []float64{160, 140, 120, 80, 60, 80, 120, 140, 120, 80, 60}
	for i, x := range xs {
		frames = append(frames, detect.FrameDetections{
			FrameIndex: int64(i),
			UnixNanos:  int64(i) * int64(100*time.Millisecond),
			Detections: []detect.Detection{personAt(x, 200)},
		})
	}
	src := &sliceSource{frames: frames}
	runner, ct := newTestRunner(t, src, vision.DirectionBoth, nil)

	require.NoError(t, runner.Run(context.Background()))

	totals := ct.Totals()
	assert.Equal(t, int64(1), totals.Counted)
	assert.Equal(t, int64(2), totals.Deduplicated)
	assert.Equal(t, int64(3), runner.Stats().Crossings)
	assert.Equal(t, int64(1), runner.TrackerStats().TracksStarted)
}

func TestRunnerMixedDirections(t *testing.T) {
	t.Parallel()

	// Three walkers right-to-left, two left-to-right, separated in Y so
	// they never collide. Only the right-to-left ones count.
	var frames []detect.FrameDetections
	for i := 0; i < 30; i++ {
		f := detect.FrameDetections{
			FrameIndex: int64(i),
			UnixNanos:  int64(i) * int64(100*time.Millisecond),
		}
		fi := float64(i)
		f.Detections = append(f.Detections,
			personAt(255-10*fi, 10),
			personAt(285-10*fi, 105),
			personAt(315-10*fi, 200),
			personAt(-45+10*fi, 295),
			personAt(-75+10*fi, 390),
		)
		frames = append(frames, f)
	}
	runner, ct := newTestRunner(t, &sliceSource{frames: frames}, vision.DirectionRightToLeft, nil)

	require.NoError(t, runner.Run(context.Background()))

	totals := ct.Totals()
	assert.Equal(t, int64(3), totals.Counted)
	assert.Equal(t, int64(3), totals.RightToLeft)
	assert.Equal(t, int64(2), totals.Filtered)
}

func TestRunnerMixedDirectionsLandingOnLine(t *testing.T) {
	t.Parallel()

	// Every walker's centroid hits x=100 exactly on some frame. Three
	// move right-to-left, two left-to-right; only the right-to-left ones
	// count.
	var frames []detect.FrameDetections
	for i := 0; i < 25; i++ {
		f := detect.FrameDetections{
			FrameIndex: int64(i),
			UnixNanos:  int64(i) * int64(100*time.Millisecond),
		}
		fi := float64(i)
		f.Detections = append(f.Detections,
			personAt(180-8*fi, 10),
			personAt(188-8*fi, 105),
			personAt(196-8*fi, 200),
			personAt(20+8*fi, 295),
			personAt(12+8*fi, 390),
		)
		frames = append(frames, f)
	}
	runner, ct := newTestRunner(t, &sliceSource{frames: frames}, vision.DirectionRightToLeft, nil)

	require.NoError(t, runner.Run(context.Background()))

	totals := ct.Totals()
	assert.Equal(t, int64(3), totals.Counted)
	assert.Equal(t, int64(3), totals.RightToLeft)
	assert.Equal(t, int64(2), totals.Filtered)
}

func TestRunnerSurvivesFrameGaps(t *testing.T) {
	t.Parallel()

	// Drop frames 5-7 from the walker's log. The track coasts through the
	// gap on its velocity estimate and the crossing still counts.
	all := walkerFrames(16, 185, -10, 200)
	var frames []detect.FrameDetections
	for _, f := range all {
		if f.FrameIndex >= 5 && f.FrameIndex <= 7 {
			continue
		}
		frames = append(frames, f)
	}
	runner, ct := newTestRunner(t, &sliceSource{frames: frames}, vision.DirectionRightToLeft, nil)

	require.NoError(t, runner.Run(context.Background()))

	assert.Equal(t, int64(1), ct.Totals().Counted)
	assert.Equal(t, int64(3), runner.Stats().GapFrames)
	assert.Equal(t, int64(1), runner.TrackerStats().TracksStarted, "gap must not split the track")
}

func TestRunnerDeterministicReplay(t *testing.T) {
	t.Parallel()

	build := func() []detect.FrameDetections {
		var frames []detect.FrameDetections
		for i := 0; i < 40; i++ {
			fi := float64(i)
			frames = append(frames, detect.FrameDetections{
				FrameIndex: int64(i),
				UnixNanos:  int64(i) * int64(100*time.Millisecond),
				Detections: []detect.Detection{
					personAt(300-8*fi, 100),
					personAt(20+8*fi, 250),
					personAt(350-9*fi, 380),
				},
			})
		}
		return frames
	}

	run := func() (counting.Totals, Stats, track.Stats) {
		runner, ct := newTestRunner(t, &sliceSource{frames: build()}, vision.DirectionBoth, nil)
		require.NoError(t, runner.Run(context.Background()))
		return ct.Totals(), runner.Stats(), runner.TrackerStats()
	}

	firstTotals, firstStats, firstTracker := run()
	for i := 0; i < 4; i++ {
		totals, stats, tracker := run()
		assert.Equal(t, firstTotals, totals)
		assert.Equal(t, firstStats, stats)
		assert.Equal(t, firstTracker, tracker)
	}
}

func TestRunnerThrottling(t *testing.T) {
	t.Parallel()

	// 100ms frames with a 5fps cap: every other frame is skipped.
	frames := walkerFrames(20, 400, -5, 200) // stays right of the line
	src := &sliceSource{frames: frames}
	tk := track.NewTracker(testTrackerConfig())
	ct := counting.NewCounter(vision.DirectionBoth, tk, nil, 0, 0)
	runner := NewRunner(src, tk, testLine(t), ct, 5)

	require.NoError(t, runner.Run(context.Background()))

	stats := runner.Stats()
	assert.Equal(t, int64(20), stats.FramesConsumed)
	assert.Greater(t, stats.FramesThrottled, int64(0))
	assert.Equal(t, stats.FramesConsumed, stats.FramesProcessed+stats.FramesThrottled)
}

func TestRunnerEmptyFramesAreNormal(t *testing.T) {
	t.Parallel()

	frames := []detect.FrameDetections{
		{FrameIndex: 0, UnixNanos: 0},
		{FrameIndex: 1, UnixNanos: int64(100 * time.Millisecond)},
		{FrameIndex: 2, UnixNanos: int64(200 * time.Millisecond)},
	}
	runner, ct := newTestRunner(t, &sliceSource{frames: frames}, vision.DirectionBoth, nil)

	require.NoError(t, runner.Run(context.Background()))
	assert.Equal(t, int64(0), ct.Totals().Counted)
	assert.Equal(t, int64(3), runner.Stats().FramesProcessed)
}
