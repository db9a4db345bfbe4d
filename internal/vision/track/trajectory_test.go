package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrajectoryAppendAndEvict(t *testing.T) {
	t.Parallel()

	tr := NewTrajectory(3)
	assert.Equal(t, 0, tr.Len())

	for i := 1; i <= 5; i++ {
		ok := tr.Append(TrajectoryPoint{X: float64(i), FrameIndex: int64(i), UnixNanos: int64(i)})
		assert.True(t, ok)
	}
	assert.Equal(t, 3, tr.Len())

	pts := tr.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, 3.0, pts[0].X)
	assert.Equal(t, 5.0, pts[2].X)
}

func TestTrajectoryRejectsNonAdvancingTimestamps(t *testing.T) {
	t.Parallel()

	tr := NewTrajectory(4)
	assert.True(t, tr.Append(TrajectoryPoint{UnixNanos: 100}))
	assert.False(t, tr.Append(TrajectoryPoint{UnixNanos: 100}))
	assert.False(t, tr.Append(TrajectoryPoint{UnixNanos: 50}))
	assert.True(t, tr.Append(TrajectoryPoint{UnixNanos: 101}))
	assert.Equal(t, 2, tr.Len())
}

func TestTrajectoryLastSegment(t *testing.T) {
	t.Parallel()

	tr := NewTrajectory(4)
	_, _, ok := tr.LastSegment()
	assert.False(t, ok)

	tr.Append(TrajectoryPoint{X: 1, UnixNanos: 1})
	_, _, ok = tr.LastSegment()
	assert.False(t, ok)

	tr.Append(TrajectoryPoint{X: 2, UnixNanos: 2})
	prev, curr, ok := tr.LastSegment()
	require.True(t, ok)
	assert.Equal(t, 1.0, prev.X)
	assert.Equal(t, 2.0, curr.X)

	tr.Append(TrajectoryPoint{X: 3, UnixNanos: 3})
	prev, curr, _ = tr.LastSegment()
	assert.Equal(t, 2.0, prev.X)
	assert.Equal(t, 3.0, curr.X)
}

func TestTrajectoryMinimumCapacity(t *testing.T) {
	t.Parallel()

	tr := NewTrajectory(0)
	tr.Append(TrajectoryPoint{X: 1, UnixNanos: 1})
	tr.Append(TrajectoryPoint{X: 2, UnixNanos: 2})
	tr.Append(TrajectoryPoint{X: 3, UnixNanos: 3})
	// Capacity clamps to 2 so a segment always fits.
	assert.Equal(t, 2, tr.Len())
	prev, curr, ok := tr.LastSegment()
	require.True(t, ok)
	assert.Equal(t, 2.0, prev.X)
	assert.Equal(t, 3.0, curr.X)
}

func TestTrajectoryPointsIsACopy(t *testing.T) {
	t.Parallel()

	tr := NewTrajectory(2)
	tr.Append(TrajectoryPoint{X: 1, UnixNanos: 1})
	pts := tr.Points()
	tr.Append(TrajectoryPoint{X: 2, UnixNanos: 2})
	tr.Append(TrajectoryPoint{X: 3, UnixNanos: 3})
	require.Len(t, pts, 1)
	assert.Equal(t, 1.0, pts[0].X)
}
