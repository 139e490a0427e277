// Package journal keeps a durable history of mode transitions, health
// evaluations, and boot-time configuration applications in SQLite. The
// status command reads the most recent records from it; the monitor prunes
// old entries per the retention policy.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Event kinds.
const (
	KindTransition = "transition"
	KindHealth     = "health"
	KindApply      = "apply"
)

// Event is one journal row.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Mode      string    `json:"mode"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is the SQLite-backed event history.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path and applies the
// schema and recommended pragmas for WAL mode.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection. WAL enables concurrent readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// Apply recommended pragmas (modernc.org/sqlite requires SQL statements, not DSN params).
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	j := &Journal{db: db}
	if err := j.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT     PRIMARY KEY,
			kind       TEXT     NOT NULL,
			mode       TEXT     NOT NULL,
			healthy    INTEGER  NOT NULL DEFAULT 0,
			detail     TEXT     NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_time ON events(kind, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON events(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// RecordTransition journals a completed (or attempted) mode change.
func (j *Journal) RecordTransition(ctx context.Context, from, to, detail string) error {
	return j.insert(ctx, Event{
		Kind:   KindTransition,
		Mode:   to,
		Detail: fmt.Sprintf("from=%s %s", from, detail),
	})
}

// RecordHealth journals one health evaluation outcome.
func (j *Journal) RecordHealth(ctx context.Context, mode string, healthy bool, detail string) error {
	return j.insert(ctx, Event{
		Kind:    KindHealth,
		Mode:    mode,
		Healthy: healthy,
		Detail:  detail,
	})
}

// RecordApply journals a boot-time configuration application.
func (j *Journal) RecordApply(ctx context.Context, kind string) error {
	return j.insert(ctx, Event{
		Kind:   KindApply,
		Mode:   "unknown",
		Detail: fmt.Sprintf("kind=%s", kind),
	})
}

func (j *Journal) insert(ctx context.Context, e Event) error {
	healthy := 0
	if e.Healthy {
		healthy = 1
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (id, kind, mode, healthy, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), e.Kind, e.Mode, healthy, e.Detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// LastHealth returns the most recent health event, or nil when none exists.
func (j *Journal) LastHealth(ctx context.Context) (*Event, error) {
	var e Event
	var healthy int
	err := j.db.QueryRowContext(ctx, `
		SELECT id, kind, mode, healthy, detail, created_at
		FROM events WHERE kind = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		KindHealth,
	).Scan(&e.ID, &e.Kind, &e.Mode, &healthy, &e.Detail, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("last health event: %w", err)
	}
	e.Healthy = healthy != 0
	return &e, nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, mode, healthy, detail, created_at
		FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var healthy int
		if err := rows.Scan(&e.ID, &e.Kind, &e.Mode, &healthy, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Healthy = healthy != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes events older than the retention window and returns how many
// rows were removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return n, nil
}
