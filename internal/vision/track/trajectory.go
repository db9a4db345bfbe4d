package track

// TrajectoryPoint is a single centroid sample in a track's history.
type TrajectoryPoint struct {
	X          float64
	Y          float64
	FrameIndex int64
	UnixNanos  int64
}

// Trajectory is a bounded ring buffer of the most recent centroid
// positions for one track. Timestamps are strictly monotonic; appends
// that would violate ordering are rejected so jittered frames can never
// fabricate a backwards motion segment.
type Trajectory struct {
	buf   []TrajectoryPoint
	head  int // index of the oldest sample
	count int
}

// NewTrajectory creates a trajectory holding at most n points. n < 2 is
// clamped to 2 since a single point can never form a motion segment.
func NewTrajectory(n int) *Trajectory {
	if n < 2 {
		n = 2
	}
	return &Trajectory{buf: make([]TrajectoryPoint, n)}
}

// Len returns the number of stored samples.
func (tr *Trajectory) Len() int { return tr.count }

// Append adds a sample, evicting the oldest when full. Returns false when
// the sample's timestamp does not advance past the newest stored sample.
func (tr *Trajectory) Append(p TrajectoryPoint) bool {
	if tr.count > 0 {
		last := tr.at(tr.count - 1)
		if p.UnixNanos <= last.UnixNanos {
			return false
		}
	}
	if tr.count < len(tr.buf) {
		tr.buf[(tr.head+tr.count)%len(tr.buf)] = p
		tr.count++
		return true
	}
	tr.buf[tr.head] = p
	tr.head = (tr.head + 1) % len(tr.buf)
	return true
}

func (tr *Trajectory) at(i int) TrajectoryPoint {
	return tr.buf[(tr.head+i)%len(tr.buf)]
}

// Last returns the newest sample.
func (tr *Trajectory) Last() (TrajectoryPoint, bool) {
	if tr.count == 0 {
		return TrajectoryPoint{}, false
	}
	return tr.at(tr.count - 1), true
}

// LastSegment returns the two newest samples: the motion segment the
// line-crossing analyzer evaluates. ok is false with fewer than 2 samples.
func (tr *Trajectory) LastSegment() (prev, curr TrajectoryPoint, ok bool) {
	if tr.count < 2 {
		return TrajectoryPoint{}, TrajectoryPoint{}, false
	}
	return tr.at(tr.count - 2), tr.at(tr.count - 1), true
}

// Points returns the samples oldest-first as a fresh slice, safe to retain
// across subsequent appends.
func (tr *Trajectory) Points() []TrajectoryPoint {
	out := make([]TrajectoryPoint, tr.count)
	for i := 0; i < tr.count; i++ {
		out[i] = tr.at(i)
	}
	return out
}
