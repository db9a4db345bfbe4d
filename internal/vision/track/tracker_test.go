package track

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatesense/footfall/internal/config"
	"github.com/gatesense/footfall/internal/vision"
	"github.com/gatesense/footfall/internal/vision/detect"
)

// mustDefaultTuning returns a tuning document with every field unset, so
// the accessor defaults apply.
func mustDefaultTuning(t *testing.T) *config.TuningConfig {
	t.Helper()
	return config.EmptyTuningConfig()
}

func testConfig() Config {
	return Config{
		MaxAssociationCost:     0.7,
		MaxCentroidDistancePx:  50,
		HitsToConfirm:          3,
		MaxMisses:              2,
		MaxAgeWithoutDetection: 10,
		ExitTimeout:            10 * time.Second,
		TrajectoryLength:       8,
		MaxTracks:              4,
	}
}

// personAt builds a detection box of a typical person size centred at
// (cx, cy).
func personAt(cx, cy float64) detect.Detection {
	return detect.Detection{
		BBox:       vision.BBox{X1: cx - 20, Y1: cy - 45, X2: cx + 20, Y2: cy + 45},
		Confidence: 0.9,
		Class:      detect.ClassPerson,
	}
}

// frameAt builds a frame at index i, 100ms apart.
func frameAt(i int64, dets ...detect.Detection) detect.FrameDetections {
	return detect.FrameDetections{
		FrameIndex: i,
		UnixNanos:  i * int64(100*time.Millisecond),
		Detections: dets,
	}
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("new detection starts a tentative track", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		result := tk.Update(frameAt(0, personAt(100, 200)))
		require.Len(t, result.Matched, 1)
		assert.Equal(t, "trk_000001", result.Matched[0].TrackID)
		assert.Equal(t, StateTentative, result.Matched[0].State)
		assert.False(t, result.Matched[0].HasSegment)
		assert.Equal(t, []string{"trk_000001"}, result.Started)
	})

	t.Run("track confirms after enough hits", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		tk.Update(frameAt(0, personAt(100, 200)))
		r := tk.Update(frameAt(1, personAt(105, 200)))
		assert.Equal(t, StateTentative, r.Matched[0].State)
		r = tk.Update(frameAt(2, personAt(110, 200)))
		assert.Equal(t, StateConfirmed, r.Matched[0].State)
		assert.True(t, r.Matched[0].HasSegment)
	})

	t.Run("hits_to_confirm of one confirms immediately", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.HitsToConfirm = 1
		tk := NewTracker(cfg)

		r := tk.Update(frameAt(0, personAt(100, 200)))
		assert.Equal(t, StateConfirmed, r.Matched[0].State)
	})

	t.Run("tentative track terminates after miss budget", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		tk.Update(frameAt(0, personAt(100, 200)))
		tk.Update(frameAt(1))
		tk.Update(frameAt(2))
		r := tk.Update(frameAt(3)) // third miss exceeds MaxMisses=2
		require.Len(t, r.Terminated, 1)
		assert.Equal(t, "trk_000001", r.Terminated[0].TrackID)
		assert.Empty(t, tk.ActiveTracks())
	})

	t.Run("confirmed track goes lost then is re-acquired", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		for i := int64(0); i < 3; i++ {
			tk.Update(frameAt(i, personAt(100+float64(i)*5, 200)))
		}
		tk.Update(frameAt(3))
		tk.Update(frameAt(4))
		tk.Update(frameAt(5)) // misses 3 > 2: lost

		tracks := tk.ActiveTracks()
		require.Len(t, tracks, 1)
		assert.Equal(t, StateLost, tracks[0].State)

		// Reappears near the predicted position: same identity, confirmed.
		r := tk.Update(frameAt(6, personAt(130, 200)))
		require.Len(t, r.Matched, 1)
		assert.Equal(t, "trk_000001", r.Matched[0].TrackID)
		assert.Equal(t, StateConfirmed, r.Matched[0].State)
		assert.Empty(t, r.Started)
	})

	t.Run("lost track terminates by frame age", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		for i := int64(0); i < 3; i++ {
			tk.Update(frameAt(i, personAt(100, 200)))
		}
		var terminated []Track
		for i := int64(3); i <= 13; i++ {
			r := tk.Update(frameAt(i))
			terminated = append(terminated, r.Terminated...)
		}
		// Last seen at frame 2, MaxAgeWithoutDetection 10: gone at frame 13.
		require.Len(t, terminated, 1)
		assert.Empty(t, tk.ActiveTracks())
	})

	t.Run("exit timeout terminates by wall clock", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.MaxAgeWithoutDetection = 1000
		tk := NewTracker(cfg)

		for i := int64(0); i < 3; i++ {
			tk.Update(frameAt(i, personAt(100, 200)))
		}
		// One empty frame 11 seconds later, past the 10s exit timeout.
		late := detect.FrameDetections{
			FrameIndex: 3,
			UnixNanos:  frameAt(2).UnixNanos + int64(11*time.Second),
		}
		r := tk.Update(late)
		require.Len(t, r.Terminated, 1)
		assert.Equal(t, "trk_000001", r.Terminated[0].TrackID)
	})
}

func TestTrackerAssociation(t *testing.T) {
	t.Parallel()

	t.Run("identity persists across motion", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		for i := int64(0); i < 10; i++ {
			r := tk.Update(frameAt(i, personAt(100+float64(i)*8, 200)))
			require.Len(t, r.Matched, 1)
			assert.Equal(t, "trk_000001", r.Matched[0].TrackID)
		}
		assert.Equal(t, int64(1), tk.Stats().TracksStarted)
	})

	t.Run("two people keep separate identities", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		for i := int64(0); i < 8; i++ {
			d := float64(i) * 6
			r := tk.Update(frameAt(i, personAt(100+d, 150), personAt(400-d, 350)))
			require.Len(t, r.Matched, 2)
		}
		tracks := tk.ActiveTracks()
		require.Len(t, tracks, 2)
		assert.NotEqual(t, tracks[0].TrackID, tracks[1].TrackID)
		// The walker starting at x=100 keeps moving right.
		assert.Greater(t, tracks[0].Centroid().X, 100.0)
	})

	t.Run("distant detection starts a new track", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		tk.Update(frameAt(0, personAt(100, 200)))
		r := tk.Update(frameAt(1, personAt(500, 400)))
		// Beyond both the IoU and the centroid gate: new identity, and the
		// old one missed.
		require.Len(t, r.Started, 1)
		assert.Equal(t, "trk_000002", r.Started[0])
	})

	t.Run("degenerate boxes fall back to centroid distance", func(t *testing.T) {
		t.Parallel()
		tk := NewTracker(testConfig())

		point := detect.Detection{
			BBox:       vision.BBox{X1: 100, Y1: 200, X2: 100, Y2: 200},
			Confidence: 0.9,
			Class:      detect.ClassPerson,
		}
		tk.Update(frameAt(0, point))

		moved := point
		moved.BBox = moved.BBox.Translate(30, 0) // within 50px gate
		r := tk.Update(frameAt(1, moved))
		require.Len(t, r.Matched, 1)
		assert.Equal(t, "trk_000001", r.Matched[0].TrackID)
		assert.Empty(t, r.Started)
	})

	t.Run("max tracks drops excess detections", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.MaxTracks = 2
		tk := NewTracker(cfg)

		dets := []detect.Detection{
			personAt(50, 100), personAt(200, 100), personAt(350, 100), personAt(500, 100),
		}
		r := tk.Update(frameAt(0, dets...))
		assert.Len(t, r.Started, 2)
		assert.Equal(t, int64(2), tk.Stats().TracksEvicted)
	})
}

func TestTrackerMarkCounted(t *testing.T) {
	t.Parallel()

	tk := NewTracker(testConfig())
	tk.Update(frameAt(0, personAt(100, 200)))

	assert.True(t, tk.MarkCounted("trk_000001"))
	assert.False(t, tk.MarkCounted("trk_000001"), "second mark must not count")
	assert.False(t, tk.MarkCounted("trk_999999"), "unknown track must not count")

	tracks := tk.ActiveTracks()
	require.Len(t, tracks, 1)
	assert.True(t, tracks[0].HasCounted)
}

func TestTrackerAdvanceMisses(t *testing.T) {
	t.Parallel()

	tk := NewTracker(testConfig())
	tk.Update(frameAt(0, personAt(100, 200)))

	tk.AdvanceMisses(1, frameAt(1).UnixNanos)
	tk.AdvanceMisses(2, frameAt(2).UnixNanos)
	gone := tk.AdvanceMisses(3, frameAt(3).UnixNanos)
	require.Len(t, gone, 1)
	assert.Equal(t, "trk_000001", gone[0].TrackID)
}

func TestTrackerDeterminism(t *testing.T) {
	t.Parallel()

	run := func() []string {
		tk := NewTracker(testConfig())
		var ids []string
		for i := int64(0); i < 30; i++ {
			d1 := personAt(100+float64(i)*7, 150)
			d2 := personAt(500-float64(i)*7, 150)
			d3 := personAt(300, 400)
			r := tk.Update(frameAt(i, d1, d2, d3))
			for _, obs := range r.Matched {
				ids = append(ids, fmt.Sprintf("%d:%s:%s", i, obs.TrackID, obs.State))
			}
		}
		return ids
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

func TestTrackerSnapshotIsolation(t *testing.T) {
	t.Parallel()

	tk := NewTracker(testConfig())
	tk.Update(frameAt(0, personAt(100, 200)))

	snap := tk.ActiveTracks()
	require.Len(t, snap, 1)
	snap[0].Hits = 99
	snap[0].Trajectory.Append(TrajectoryPoint{X: 1, UnixNanos: 1 << 60})

	fresh := tk.ActiveTracks()
	assert.Equal(t, 1, fresh[0].Hits)
	assert.Equal(t, 1, fresh[0].Trajectory.Len())
}

func TestConfigFromTuningDefaults(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromTuning(mustDefaultTuning(t))
	assert.Equal(t, 0.7, cfg.MaxAssociationCost)
	assert.Equal(t, 50.0, cfg.MaxCentroidDistancePx)
	assert.Equal(t, 3, cfg.HitsToConfirm)
	assert.Equal(t, 10*time.Second, cfg.ExitTimeout)
	assert.Equal(t, 64, cfg.MaxTracks)
}
