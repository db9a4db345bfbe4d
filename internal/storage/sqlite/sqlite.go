// Package sqlite is the persistence layer: count events, track
// summaries, sessions, and export bookkeeping in a single SQLite file.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle. Embeds *sql.DB so callers can run ad-hoc
// queries alongside the typed helpers.
type DB struct {
	*sql.DB
	path string
}

// Open opens (or creates) the database at path and applies the
// connection pragmas. Pass ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// WAL keeps the API's reads from blocking the pipeline's writes;
	// busy_timeout covers the remaining contention window.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file path as passed to Open.
func (db *DB) Path() string { return db.path }
