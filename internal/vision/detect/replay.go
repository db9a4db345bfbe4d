package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gatesense/footfall/internal/vision"
)

// replayRecord is the NDJSON wire form of one frame's detections, as
// written by a detector sidecar or the gen-detections tool. Boxes are
// [x1,y1,x2,y2] arrays to keep the log compact.
type replayRecord struct {
	Frame      int64          `json:"frame"`
	UnixNanos  int64          `json:"ts_unix_nanos"`
	Detections []replayRecDet `json:"detections"`
}

type replayRecDet struct {
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Class      string     `json:"class"`
}

// ReplaySource reads newline-delimited JSON detection records from a
// stream and serves them as an ordered Source. It validates each frame at
// the boundary and filters non-person classes, so the tracker only ever
// sees clean person detections.
//
// Replaying the same log always yields the same frame sequence, which is
// the basis of the pipeline's determinism guarantee.
type ReplaySource struct {
	name    string
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	prev    int64
}

// NewReplaySource wraps an open NDJSON stream. name is used in error
// messages only.
func NewReplaySource(name string, r io.Reader) *ReplaySource {
	sc := bufio.NewScanner(r)
	// Allow long lines: a crowded frame can carry hundreds of detections.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	src := &ReplaySource{name: name, scanner: sc, prev: -1}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// OpenReplayFile opens an NDJSON detection log from disk.
func OpenReplayFile(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detection log: %w", err)
	}
	return NewReplaySource(path, f), nil
}

// Next implements Source. Blank lines are skipped; malformed lines and
// ordering violations are hard errors since a corrupt log cannot be
// counted from reliably.
func (s *ReplaySource) Next(ctx context.Context) (FrameDetections, error) {
	for {
		if err := ctx.Err(); err != nil {
			return FrameDetections{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return FrameDetections{}, fmt.Errorf("%s:%d: read: %w", s.name, s.line, err)
			}
			if s.closer != nil {
				s.closer.Close()
				s.closer = nil
			}
			return FrameDetections{}, ErrSourceDrained
		}
		s.line++

		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec replayRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return FrameDetections{}, fmt.Errorf("%s:%d: parse: %w", s.name, s.line, err)
		}

		frame := FrameDetections{
			FrameIndex: rec.Frame,
			UnixNanos:  rec.UnixNanos,
			Detections: make([]Detection, 0, len(rec.Detections)),
		}
		for _, d := range rec.Detections {
			frame.Detections = append(frame.Detections, Detection{
				BBox:       vision.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
				Confidence: d.Confidence,
				Class:      Class(d.Class),
			})
		}

		if err := ValidateFrame(s.prev, frame); err != nil {
			return FrameDetections{}, fmt.Errorf("%s:%d: %w", s.name, s.line, err)
		}
		s.prev = frame.FrameIndex
		frame.Detections = FilterPersons(frame.Detections)
		frame.Timestamp = frame.Time()
		return frame, nil
	}
}

// MarshalFrame renders a frame back to its NDJSON wire form. Used by the
// fixture generator and tests.
func MarshalFrame(f FrameDetections) ([]byte, error) {
	rec := replayRecord{
		Frame:      f.FrameIndex,
		UnixNanos:  f.UnixNanos,
		Detections: make([]replayRecDet, 0, len(f.Detections)),
	}
	if rec.UnixNanos == 0 && !f.Timestamp.IsZero() {
		rec.UnixNanos = f.Timestamp.UnixNano()
	}
	for _, d := range f.Detections {
		rec.Detections = append(rec.Detections, replayRecDet{
			BBox:       [4]float64{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2},
			Confidence: d.Confidence,
			Class:      string(d.Class),
		})
	}
	return json.Marshal(rec)
}
