// Package track maintains persistent identities for detected people across
// frames. Detections are associated to existing tracks with the Hungarian
// algorithm over a 1-IoU cost matrix (centroid distance when boxes do not
// overlap), and each track carries the bounded trajectory the crossing
// analyzer reads.
package track

import (
	"fmt"
	"sync"
	"time"

	"github.com/gatesense/footfall/internal/config"
	"github.com/gatesense/footfall/internal/vision"
	"github.com/gatesense/footfall/internal/vision/detect"
)

// State is the lifecycle state of a track.
type State string

const (
	// StateTentative is a new track that has not yet accumulated enough
	// consecutive matches to be trusted.
	StateTentative State = "tentative"
	// StateConfirmed is an established track eligible for counting.
	StateConfirmed State = "confirmed"
	// StateLost is a confirmed track that has gone unmatched past the miss
	// budget but may still be re-acquired.
	StateLost State = "lost"
	// StateTerminated is a track removed from the table. Terminal.
	StateTerminated State = "terminated"
)

// Track is one tracked person. Fields are updated only under the tracker
// lock; snapshots returned by accessors are deep copies.
type Track struct {
	TrackID string
	State   State

	Hits   int // total matched frames
	Misses int // consecutive unmatched processed frames

	FirstFrame     int64
	LastSeenFrame  int64 // frame index of the last matched detection
	FirstUnixNanos int64
	LastUnixNanos  int64 // timestamp of the last matched detection

	LastBBox vision.BBox
	// Velocity in pixels per frame, estimated from the last two matches.
	VX, VY float64

	// HasCounted latches once the track has contributed to the visitor
	// count. It never resets for the lifetime of the track.
	HasCounted bool

	Trajectory *Trajectory
}

// Centroid returns the centroid of the track's last matched box.
func (t *Track) Centroid() vision.Point { return t.LastBBox.Centroid() }

// predictBBox extrapolates the track's last box to the given frame using
// the per-frame velocity estimate.
func (t *Track) predictBBox(frameIndex int64) vision.BBox {
	gap := float64(frameIndex - t.LastSeenFrame)
	if gap <= 0 {
		return t.LastBBox
	}
	return t.LastBBox.Translate(t.VX*gap, t.VY*gap)
}

// Config holds the tracker thresholds. Derive from the tuning document
// with ConfigFromTuning.
type Config struct {
	// MaxAssociationCost gates 1-IoU costs; overlapping pairs above it are
	// never matched.
	MaxAssociationCost float64
	// MaxCentroidDistancePx gates the centroid fallback used when a
	// detection and a predicted box do not overlap.
	MaxCentroidDistancePx float64
	// HitsToConfirm is the matched-frame count that promotes a tentative
	// track to confirmed.
	HitsToConfirm int
	// MaxMisses is the consecutive-miss budget before a confirmed track
	// goes lost (tentative tracks are terminated outright).
	MaxMisses int
	// MaxAgeWithoutDetection terminates a track once this many frames have
	// elapsed since its last match.
	MaxAgeWithoutDetection int
	// ExitTimeout terminates a track once this much wall-clock time has
	// elapsed since its last match, regardless of frame budget.
	ExitTimeout time.Duration
	// TrajectoryLength is the per-track centroid history capacity.
	TrajectoryLength int
	// MaxTracks caps concurrent tracks; excess detections are dropped.
	MaxTracks int
}

// ConfigFromTuning builds a tracker Config from the tuning document.
func ConfigFromTuning(tc *config.TuningConfig) Config {
	return Config{
		MaxAssociationCost:     tc.GetMaxAssociationCost(),
		MaxCentroidDistancePx:  tc.GetMaxCentroidDistancePx(),
		HitsToConfirm:          tc.GetHitsToConfirm(),
		MaxMisses:              tc.GetMaxMisses(),
		MaxAgeWithoutDetection: tc.GetMaxAgeWithoutDetection(),
		ExitTimeout:            tc.GetExitTimeout(),
		TrajectoryLength:       tc.GetTrajectoryLength(),
		MaxTracks:              tc.GetMaxTracks(),
	}
}

// Stats are cumulative tracker counters, safe to snapshot at any time.
type Stats struct {
	FramesProcessed  int64
	TracksStarted    int64
	TracksTerminated int64
	TracksEvicted    int64 // detections dropped at the MaxTracks cap
}

// Observation is the per-frame view of a matched track handed to the
// crossing analyzer: the newest motion segment plus the counting latch.
type Observation struct {
	TrackID    string
	State      State
	HasCounted bool
	BBox       vision.BBox
	FrameIndex int64
	UnixNanos  int64

	// Prev and Curr are the two newest trajectory samples. HasSegment is
	// false for a track's first observation.
	Prev, Curr TrajectoryPoint
	HasSegment bool
}

// UpdateResult summarises one tracker pass.
type UpdateResult struct {
	// Matched holds an observation for every track matched this frame, in
	// track insertion order.
	Matched []Observation
	// Started lists IDs of tracks created this frame.
	Started []string
	// Terminated holds final snapshots of tracks evicted this frame, for
	// summary persistence.
	Terminated []Track
}

// Tracker is the multi-object tracker. All methods are safe for
// concurrent use; Update and AdvanceMisses are expected to be called from
// a single pipeline goroutine while accessors may be called from anywhere.
type Tracker struct {
	mu  sync.RWMutex
	cfg Config

	// Insertion-ordered track table. Iterating order instead of the map
	// keeps association and lifecycle processing deterministic across
	// replays of the same detection log.
	order  []string
	tracks map[string]*Track

	nextID int64
	stats  Stats
}

// NewTracker creates a tracker with the given thresholds.
func NewTracker(cfg Config) *Tracker {
	if cfg.TrajectoryLength < 2 {
		cfg.TrajectoryLength = 2
	}
	return &Tracker{
		cfg:    cfg,
		tracks: make(map[string]*Track),
	}
}

// nextTrackID mints the next sequential track ID.
func (tk *Tracker) nextTrackID() string {
	tk.nextID++
	return fmt.Sprintf("trk_%06d", tk.nextID)
}

// Update runs one tracker pass over a frame's detections: associate,
// update matched tracks, age unmatched ones, start tracks for unmatched
// detections, and evict terminated tracks.
func (tk *Tracker) Update(frame detect.FrameDetections) UpdateResult {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	tk.stats.FramesProcessed++
	var result UpdateResult

	dets := frame.Detections
	candidates := tk.candidateIDs()

	// Associate detections to candidate tracks.
	assign := tk.associate(dets, candidates, frame.FrameIndex)

	matchedTracks := make(map[string]bool, len(dets))
	matchedByTrack := make(map[string]int, len(dets)) // track ID → detection index
	for i, j := range assign {
		if j < 0 {
			continue
		}
		id := candidates[j]
		matchedTracks[id] = true
		matchedByTrack[id] = i
	}

	// Update matched tracks in insertion order so the result ordering is
	// stable across replays.
	for _, id := range candidates {
		i, ok := matchedByTrack[id]
		if !ok {
			continue
		}
		t := tk.tracks[id]
		tk.applyMatch(t, dets[i], frame)
		result.Matched = append(result.Matched, tk.observe(t))
	}

	// Age unmatched tracks.
	for _, id := range candidates {
		if matchedTracks[id] {
			continue
		}
		tk.applyMiss(tk.tracks[id], frame.FrameIndex, frame.UnixNanos)
	}

	// Start tracks for unmatched detections, in detection order.
	for i, j := range assign {
		if j >= 0 {
			continue
		}
		if len(tk.tracks) >= tk.cfg.MaxTracks {
			tk.stats.TracksEvicted++
			continue
		}
		t := tk.startTrack(dets[i], frame)
		result.Started = append(result.Started, t.TrackID)
		result.Matched = append(result.Matched, tk.observe(t))
	}

	result.Terminated = tk.sweepTerminated()
	return result
}

// AdvanceMisses ages every track as if an all-empty frame had been
// processed. The pipeline calls this for frames it skips under throttling
// so lost tracks still time out.
func (tk *Tracker) AdvanceMisses(frameIndex, unixNanos int64) []Track {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	for _, id := range tk.candidateIDs() {
		tk.applyMiss(tk.tracks[id], frameIndex, unixNanos)
	}
	return tk.sweepTerminated()
}

// MarkCounted latches the track's counted flag. Returns true only on the
// false→true transition; a second call for the same track returns false,
// which is what guarantees one count per track lifetime.
func (tk *Tracker) MarkCounted(trackID string) bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	t, ok := tk.tracks[trackID]
	if !ok || t.HasCounted {
		return false
	}
	t.HasCounted = true
	return true
}

// candidateIDs returns the IDs of all live tracks in insertion order.
// Callers hold the lock.
func (tk *Tracker) candidateIDs() []string {
	out := make([]string, 0, len(tk.order))
	for _, id := range tk.order {
		if t, ok := tk.tracks[id]; ok && t.State != StateTerminated {
			out = append(out, id)
		}
	}
	return out
}

// associate builds the cost matrix and solves the assignment. Returns
// assign[i] = candidate index for detection i, or -1.
func (tk *Tracker) associate(dets []detect.Detection, candidates []string, frameIndex int64) []int {
	if len(dets) == 0 {
		return nil
	}
	if len(candidates) == 0 {
		assign := make([]int, len(dets))
		for i := range assign {
			assign[i] = -1
		}
		return assign
	}

	cost := make([][]float64, len(dets))
	for i, d := range dets {
		cost[i] = make([]float64, len(candidates))
		for j, id := range candidates {
			cost[i][j] = tk.pairCost(d, tk.tracks[id], frameIndex)
		}
	}
	return vision.HungarianAssign(cost)
}

// pairCost computes the association cost between a detection and a
// track's velocity-extrapolated box. Overlapping pairs cost 1-IoU in
// [0, 1); non-overlapping or degenerate pairs fall back to centroid
// distance, offset past the IoU range so overlap always wins, and are
// forbidden beyond the distance gate.
func (tk *Tracker) pairCost(d detect.Detection, t *Track, frameIndex int64) float64 {
	predicted := t.predictBBox(frameIndex)

	if !d.BBox.IsDegenerate() && !predicted.IsDegenerate() {
		if iou := vision.IoU(d.BBox, predicted); iou > 0 {
			c := 1 - iou
			if c > tk.cfg.MaxAssociationCost {
				return vision.ForbiddenCost
			}
			return c
		}
	}

	dist := d.BBox.Centroid().Dist(predicted.Centroid())
	if dist > tk.cfg.MaxCentroidDistancePx {
		return vision.ForbiddenCost
	}
	return 1 + dist/tk.cfg.MaxCentroidDistancePx
}

// applyMatch folds a matched detection into a track.
func (tk *Tracker) applyMatch(t *Track, d detect.Detection, frame detect.FrameDetections) {
	c := d.BBox.Centroid()
	gap := float64(frame.FrameIndex - t.LastSeenFrame)
	if gap > 0 {
		prev := t.LastBBox.Centroid()
		t.VX = (c.X - prev.X) / gap
		t.VY = (c.Y - prev.Y) / gap
	}

	t.LastBBox = d.BBox
	t.LastSeenFrame = frame.FrameIndex
	t.LastUnixNanos = frame.UnixNanos
	t.Hits++
	t.Misses = 0

	t.Trajectory.Append(TrajectoryPoint{
		X: c.X, Y: c.Y,
		FrameIndex: frame.FrameIndex,
		UnixNanos:  frame.UnixNanos,
	})

	switch t.State {
	case StateTentative:
		if t.Hits >= tk.cfg.HitsToConfirm {
			t.State = StateConfirmed
		}
	case StateLost:
		// Re-acquired before timing out.
		t.State = StateConfirmed
	}
}

// applyMiss ages an unmatched track one processed frame and applies the
// lifecycle transitions.
func (tk *Tracker) applyMiss(t *Track, frameIndex, unixNanos int64) {
	t.Misses++

	switch t.State {
	case StateTentative:
		// An unconfirmed track gets no lost grace period.
		if t.Misses > tk.cfg.MaxMisses {
			t.State = StateTerminated
		}
	case StateConfirmed:
		if t.Misses > tk.cfg.MaxMisses {
			t.State = StateLost
		}
	}

	if t.State == StateTerminated {
		return
	}

	// Hard termination on total unseen age, by frames or wall clock.
	if frameIndex-t.LastSeenFrame > int64(tk.cfg.MaxAgeWithoutDetection) {
		t.State = StateTerminated
		return
	}
	if unixNanos > t.LastUnixNanos &&
		time.Duration(unixNanos-t.LastUnixNanos) > tk.cfg.ExitTimeout {
		t.State = StateTerminated
	}
}

// startTrack creates a tentative track from an unmatched detection.
func (tk *Tracker) startTrack(d detect.Detection, frame detect.FrameDetections) *Track {
	c := d.BBox.Centroid()
	t := &Track{
		TrackID:        tk.nextTrackID(),
		State:          StateTentative,
		Hits:           1,
		FirstFrame:     frame.FrameIndex,
		LastSeenFrame:  frame.FrameIndex,
		FirstUnixNanos: frame.UnixNanos,
		LastUnixNanos:  frame.UnixNanos,
		LastBBox:       d.BBox,
		Trajectory:     NewTrajectory(tk.cfg.TrajectoryLength),
	}
	t.Trajectory.Append(TrajectoryPoint{
		X: c.X, Y: c.Y,
		FrameIndex: frame.FrameIndex,
		UnixNanos:  frame.UnixNanos,
	})
	if tk.cfg.HitsToConfirm <= 1 {
		t.State = StateConfirmed
	}

	tk.tracks[t.TrackID] = t
	tk.order = append(tk.order, t.TrackID)
	tk.stats.TracksStarted++
	return t
}

// sweepTerminated removes terminated tracks from the table and returns
// their final snapshots in insertion order. The evicted Track retains
// sole ownership of its trajectory, so a value copy is a safe snapshot.
// Callers hold the lock.
func (tk *Tracker) sweepTerminated() []Track {
	var gone []Track
	kept := tk.order[:0]
	for _, id := range tk.order {
		t := tk.tracks[id]
		if t.State == StateTerminated {
			delete(tk.tracks, id)
			gone = append(gone, *t)
			tk.stats.TracksTerminated++
			continue
		}
		kept = append(kept, id)
	}
	tk.order = kept
	return gone
}

// observe builds the crossing analyzer's view of a track. Callers hold
// the lock.
func (tk *Tracker) observe(t *Track) Observation {
	obs := Observation{
		TrackID:    t.TrackID,
		State:      t.State,
		HasCounted: t.HasCounted,
		BBox:       t.LastBBox,
		FrameIndex: t.LastSeenFrame,
		UnixNanos:  t.LastUnixNanos,
	}
	if prev, curr, ok := t.Trajectory.LastSegment(); ok {
		obs.Prev, obs.Curr, obs.HasSegment = prev, curr, true
	}
	return obs
}

// ActiveTracks returns a deep-copy snapshot of all live tracks in
// insertion order.
func (tk *Tracker) ActiveTracks() []Track {
	tk.mu.RLock()
	defer tk.mu.RUnlock()

	out := make([]Track, 0, len(tk.order))
	for _, id := range tk.order {
		t, ok := tk.tracks[id]
		if !ok {
			continue
		}
		cp := *t
		traj := NewTrajectory(tk.cfg.TrajectoryLength)
		for _, p := range t.Trajectory.Points() {
			traj.Append(p)
		}
		cp.Trajectory = traj
		out = append(out, cp)
	}
	return out
}

// ConfirmedTracks returns a deep-copy snapshot of confirmed tracks only.
func (tk *Tracker) ConfirmedTracks() []Track {
	all := tk.ActiveTracks()
	out := all[:0:0]
	for _, t := range all {
		if t.State == StateConfirmed {
			out = append(out, t)
		}
	}
	return out
}

// Stats returns a snapshot of the cumulative counters.
func (tk *Tracker) Stats() Stats {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return tk.stats
}

// Config returns the tracker's thresholds.
func (tk *Tracker) Config() Config {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return tk.cfg
}
