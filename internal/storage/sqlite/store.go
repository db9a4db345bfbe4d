package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatesense/footfall/internal/vision"
	"github.com/gatesense/footfall/internal/vision/counting"
	"github.com/gatesense/footfall/internal/vision/track"
)

// StoredEvent is a persisted count event row.
type StoredEvent struct {
	ID           int64            `json:"id"`
	SessionID    string           `json:"session_id"`
	TrackID      string           `json:"track_id"`
	FrameIndex   int64            `json:"frame"`
	Timestamp    time.Time        `json:"timestamp"`
	Direction    vision.Direction `json:"direction"`
	RunningTotal int64            `json:"running_total"`
}

// HourBucket is one hour's accepted count, for the activity views.
type HourBucket struct {
	Hour  string `json:"hour"` // "2026-08-23 14" in UTC
	Count int64  `json:"count"`
}

// CountStore persists count events and track summaries for one session.
// It implements counting.Sink and pipeline.TrackSink.
type CountStore struct {
	db        *DB
	sessionID string
}

// NewCountStore binds a store to a session. Call StartSession before the
// pipeline runs so the foreign keys resolve.
func NewCountStore(db *DB, sessionID string) *CountStore {
	return &CountStore{db: db, sessionID: sessionID}
}

// StartSession inserts the session row.
func (s *CountStore) StartSession(ctx context.Context, startedAt time.Time, configJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at_ns, config_json) VALUES (?, ?, ?)`,
		s.sessionID, startedAt.UnixNano(), configJSON)
	if err != nil {
		return fmt.Errorf("start session %s: %w", s.sessionID, err)
	}
	return nil
}

// EndSession stamps the session's end time.
func (s *CountStore) EndSession(ctx context.Context, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at_ns = ? WHERE session_id = ?`,
		endedAt.UnixNano(), s.sessionID)
	if err != nil {
		return fmt.Errorf("end session %s: %w", s.sessionID, err)
	}
	return nil
}

// Record implements counting.Sink.
func (s *CountStore) Record(ctx context.Context, ev counting.CountEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO count_events (session_id, track_id, frame, timestamp_ns, direction, running_total)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.sessionID, ev.TrackID, ev.FrameIndex, ev.Timestamp.UnixNano(), string(ev.Direction), ev.RunningTotal)
	if err != nil {
		return fmt.Errorf("record count event for track %s: %w", ev.TrackID, err)
	}
	return nil
}

// RecordTrackSummary implements pipeline.TrackSink. Upsert: a track that
// terminates during throttling and again at sweep must not fail.
func (s *CountStore) RecordTrackSummary(ctx context.Context, t track.Track) error {
	counted := 0
	if t.HasCounted {
		counted = 1
	}
	pos := t.Centroid()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO track_summaries (track_id, session_id, first_frame, last_frame, first_ts_ns, last_ts_ns, last_x, last_y, hits, counted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, track_id) DO UPDATE SET
		   last_frame = excluded.last_frame,
		   last_ts_ns = excluded.last_ts_ns,
		   last_x = excluded.last_x,
		   last_y = excluded.last_y,
		   hits = excluded.hits,
		   counted = excluded.counted`,
		t.TrackID, s.sessionID, t.FirstFrame, t.LastSeenFrame,
		t.FirstUnixNanos, t.LastUnixNanos, pos.X, pos.Y, t.Hits, counted)
	if err != nil {
		return fmt.Errorf("record track summary %s: %w", t.TrackID, err)
	}
	return nil
}

// ListEvents returns events newest-first, optionally bounded by a start
// time. limit <= 0 defaults to 100.
func (s *CountStore) ListEvents(ctx context.Context, since time.Time, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, track_id, frame, timestamp_ns, direction, running_total
		 FROM count_events
		 WHERE timestamp_ns >= ?
		 ORDER BY id DESC
		 LIMIT ?`,
		since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events with id > afterID in insertion order. This
// is the incremental export cursor.
func (s *CountStore) EventsAfter(ctx context.Context, afterID int64) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, track_id, frame, timestamp_ns, direction, running_total
		 FROM count_events
		 WHERE id > ?
		 ORDER BY id ASC`,
		afterID)
	if err != nil {
		return nil, fmt.Errorf("events after %d: %w", afterID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var dir string
		var tsNanos int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.TrackID, &ev.FrameIndex, &tsNanos, &dir, &ev.RunningTotal); err != nil {
			return nil, fmt.Errorf("scan count event: %w", err)
		}
		ev.Timestamp = time.Unix(0, tsNanos).UTC()
		ev.Direction = vision.Direction(dir)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PersistedTotals returns the all-time event count and per-direction
// split across every session in the database.
func (s *CountStore) PersistedTotals(ctx context.Context) (total, leftToRight, rightToLeft int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(direction = 'left_to_right'), 0),
		        COALESCE(SUM(direction = 'right_to_left'), 0)
		 FROM count_events`).Scan(&total, &leftToRight, &rightToLeft)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("persisted totals: %w", err)
	}
	return total, leftToRight, rightToLeft, nil
}

// HourlyCounts buckets accepted events by UTC hour, oldest first.
func (s *CountStore) HourlyCounts(ctx context.Context) ([]HourBucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m-%d %H', timestamp_ns / 1000000000, 'unixepoch') AS hour, COUNT(*)
		 FROM count_events
		 GROUP BY hour
		 ORDER BY hour ASC`)
	if err != nil {
		return nil, fmt.Errorf("hourly counts: %w", err)
	}
	defer rows.Close()

	var out []HourBucket
	for rows.Next() {
		var b HourBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			return nil, fmt.Errorf("scan hour bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LastExportID returns the export cursor for the named export target, or
// 0 if it has never exported.
func (s *CountStore) LastExportID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_export_id FROM export_state WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last export id for %s: %w", name, err)
	}
	return id, nil
}

// SetLastExportID advances the export cursor. Only moves forward.
func (s *CountStore) SetLastExportID(ctx context.Context, name string, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO export_state (name, last_export_id, exported_at_ns) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   last_export_id = MAX(export_state.last_export_id, excluded.last_export_id),
		   exported_at_ns = excluded.exported_at_ns`,
		name, id, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("set export cursor %s=%d: %w", name, id, err)
	}
	return nil
}

// Prune deletes count events older than the cutoff. Returns rows removed.
func (s *CountStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM count_events WHERE timestamp_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events before %s: %w", before, err)
	}
	return res.RowsAffected()
}

// SessionID returns the session this store writes under.
func (s *CountStore) SessionID() string { return s.sessionID }
