// Package export renders persisted count events to operator-facing
// artifacts: incremental CSV files, an activity chart, and arrival
// statistics.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/gatesense/footfall/internal/monitoring"
	"github.com/gatesense/footfall/internal/storage/sqlite"
)

// csvCursor names the export-state row that tracks the last CSV-exported
// event ID. Every export only writes rows newer than the cursor, so
// repeated exports never duplicate.
const csvCursor = "csv"

// Exporter writes export artifacts for one store into a directory.
type Exporter struct {
	store *sqlite.CountStore
	dir   string
}

// NewExporter creates an exporter writing into dir, creating it if
// needed.
func NewExporter(store *sqlite.CountStore, dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export dir %s: %w", dir, err)
	}
	return &Exporter{store: store, dir: dir}, nil
}

// Dir returns the export directory.
func (e *Exporter) Dir() string { return e.dir }

// ExportCSV writes all events newer than the export cursor to a fresh
// timestamped CSV file and advances the cursor. When no new events exist
// it re-exports the full history instead, so the newest file is always a
// complete snapshot an operator can grab. An empty path means the
// database has no events at all.
func (e *Exporter) ExportCSV(ctx context.Context) (string, int, error) {
	lastID, err := e.store.LastExportID(ctx, csvCursor)
	if err != nil {
		return "", 0, err
	}
	events, err := e.store.EventsAfter(ctx, lastID)
	if err != nil {
		return "", 0, err
	}
	if len(events) == 0 {
		events, err = e.store.EventsAfter(ctx, 0)
		if err != nil {
			return "", 0, err
		}
		if len(events) == 0 {
			return "", 0, nil
		}
	}

	// Nanosecond precision keeps back-to-back exports from colliding on
	// the same filename.
	name := fmt.Sprintf("visitors-%s.csv", time.Now().UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create export file: %w", err)
	}

	w := csv.NewWriter(f)
	header := []string{"id", "session_id", "track_id", "frame", "timestamp", "direction", "running_total"}
	if err := w.Write(header); err != nil {
		f.Close()
		return "", 0, fmt.Errorf("write export header: %w", err)
	}
	maxID := lastID
	for _, ev := range events {
		row := []string{
			strconv.FormatInt(ev.ID, 10),
			ev.SessionID,
			ev.TrackID,
			strconv.FormatInt(ev.FrameIndex, 10),
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			string(ev.Direction),
			strconv.FormatInt(ev.RunningTotal, 10),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return "", 0, fmt.Errorf("write export row: %w", err)
		}
		if ev.ID > maxID {
			maxID = ev.ID
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", 0, fmt.Errorf("flush export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("close export file: %w", err)
	}

	// Advance the cursor only after the file is safely on disk. A crash
	// in between re-exports the same rows to a new file rather than
	// losing them.
	if err := e.store.SetLastExportID(ctx, csvCursor, maxID); err != nil {
		return path, len(events), err
	}

	monitoring.Logf("export: wrote %d events to %s", len(events), path)
	return path, len(events), nil
}

// WriteActivityChart renders the hourly count histogram to a PNG and
// returns its path. Returns an empty path when there is no data yet.
func (e *Exporter) WriteActivityChart(ctx context.Context) (string, error) {
	buckets, err := e.store.HourlyCounts(ctx)
	if err != nil {
		return "", err
	}
	if len(buckets) == 0 {
		return "", nil
	}

	p := plot.New()
	p.Title.Text = "Visitors per hour"
	p.X.Label.Text = "Hour"
	p.Y.Label.Text = "Visitors"

	pts := make(plotter.XYs, 0, len(buckets))
	for i, b := range buckets {
		pts = append(pts, plotter.XY{X: float64(i), Y: float64(b.Count)})
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return "", fmt.Errorf("build activity line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.NominalX(hourLabels(buckets)...)

	path := filepath.Join(e.dir, "activity.png")
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save activity chart: %w", err)
	}
	return path, nil
}

func hourLabels(buckets []sqlite.HourBucket) []string {
	labels := make([]string, len(buckets))
	for i, b := range buckets {
		labels[i] = b.Hour
	}
	return labels
}

// ArrivalStats summarises the spacing between accepted counts.
type ArrivalStats struct {
	Events           int     `json:"events"`
	MeanGapSeconds   float64 `json:"mean_gap_seconds"`
	StdDevGapSeconds float64 `json:"stddev_gap_seconds"`
	MedianGapSeconds float64 `json:"median_gap_seconds"`
}

// ComputeArrivalStats derives inter-arrival statistics over the newest
// events (up to limit). With fewer than two events all gaps are zero.
func (e *Exporter) ComputeArrivalStats(ctx context.Context, limit int) (ArrivalStats, error) {
	events, err := e.store.ListEvents(ctx, time.Time{}, limit)
	if err != nil {
		return ArrivalStats{}, err
	}
	out := ArrivalStats{Events: len(events)}
	if len(events) < 2 {
		return out, nil
	}

	// ListEvents returns newest-first; gaps need chronological order.
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	gaps := make([]float64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, events[i].Timestamp.Sub(events[i-1].Timestamp).Seconds())
	}
	out.MeanGapSeconds = stat.Mean(gaps, nil)
	out.StdDevGapSeconds = stat.StdDev(gaps, nil)

	sorted := append([]float64(nil), gaps...)
	sort.Float64s(sorted)
	out.MedianGapSeconds = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return out, nil
}
