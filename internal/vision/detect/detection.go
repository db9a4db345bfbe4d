// Package detect defines the detection-side boundary of the counting
// pipeline: the per-frame detection records produced by an external object
// detector, the Source capability interface the tracker consumes, and the
// validation applied at that boundary.
//
// The detector itself (model, inference runtime, video capture) lives
// outside this module. Anything that can produce ordered FrameDetections,
// such as a replay log or a sidecar process writing NDJSON, plugs in
// behind Source.
package detect

import (
	"fmt"
	"time"

	"github.com/gatesense/footfall/internal/vision"
)

// Class is the detector's object class label.
type Class string

// ClassPerson is the only class the counting pipeline acts on. Sources are
// expected to filter upstream, but ValidFrame tolerates and drops others.
const ClassPerson Class = "person"

// Detection is one detected object in one frame. Transient: consumed by
// the tracker immediately and never persisted.
type Detection struct {
	BBox       vision.BBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Class      Class       `json:"class"`
}

// FrameDetections is the full detection set for a single frame, tagged
// with the frame's position in the capture sequence.
type FrameDetections struct {
	FrameIndex int64       `json:"frame"`
	Timestamp  time.Time   `json:"-"`
	UnixNanos  int64       `json:"ts_unix_nanos"`
	Detections []Detection `json:"detections"`
}

// Time returns the frame timestamp, deriving it from UnixNanos when the
// Timestamp field was not populated (e.g. after JSON decoding).
func (f FrameDetections) Time() time.Time {
	if !f.Timestamp.IsZero() {
		return f.Timestamp
	}
	return time.Unix(0, f.UnixNanos)
}

// ValidateDetection checks a single detection record at the adapter
// boundary. Degenerate boxes are allowed (the tracker falls back to
// centroid costs) but inverted boxes and out-of-range confidences are not.
func ValidateDetection(d Detection) error {
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %.4f outside [0,1]", d.Confidence)
	}
	if d.BBox.X2 < d.BBox.X1 || d.BBox.Y2 < d.BBox.Y1 {
		return fmt.Errorf("inverted bbox [%.1f,%.1f,%.1f,%.1f]",
			d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2)
	}
	return nil
}

// ValidateFrame checks frame ordering against the previously consumed
// frame index and validates every detection. An empty detection set is
// normal operation, not an error.
func ValidateFrame(prevIndex int64, f FrameDetections) error {
	if f.FrameIndex <= prevIndex {
		return fmt.Errorf("frame index %d not after previous %d (out-of-order delivery)",
			f.FrameIndex, prevIndex)
	}
	for i, d := range f.Detections {
		if err := ValidateDetection(d); err != nil {
			return fmt.Errorf("frame %d detection %d: %w", f.FrameIndex, i, err)
		}
	}
	return nil
}

// FilterPersons returns only the person-class detections, preserving
// order. Detection index order is the tracker's tie-break key, so the
// relative order of survivors must not change.
func FilterPersons(dets []Detection) []Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if d.Class == ClassPerson {
			out = append(out, d)
		}
	}
	return out
}
