// Package journal persists chord activations in a local SQLite database.
// Only chord names and timestamps are stored, never raw key transitions.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chord_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL,
	chord      TEXT    NOT NULL,
	at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chord_events_at ON chord_events (at);
`

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// Count aggregates the activations of one chord.
type Count struct {
	Chord string
	N     int64
	First time.Time
	Last  time.Time
}

// Journal is an append-mostly log of chord activations.
// Safe for concurrent use.
type Journal struct {
	db     *sql.DB
	insert *sql.Stmt
	path   string
	closed atomic.Bool
}

// Open creates or opens the database at path in WAL mode and applies the
// schema. The parent directory is created with 0700.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	// A single writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	insert, err := db.PrepareContext(ctx, `INSERT INTO chord_events (session_id, chord, at) VALUES (?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: prepare insert: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		slog.Debug("[DEBUG-JOURNAL] chmod journal failed", "path", path, "error", err)
	}

	slog.Debug("[DEBUG-JOURNAL] opened", "path", path)
	return &Journal{db: db, insert: insert, path: path}, nil
}

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// Record appends one activation.
func (j *Journal) Record(ctx context.Context, session, chord string, at time.Time) error {
	if chord == "" {
		return errors.New("journal: chord name is required")
	}
	if j.closed.Load() {
		return ErrClosed
	}
	if _, err := j.insert.ExecContext(ctx, session, chord, at.UnixNano()); err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Counts returns per-chord totals for activations at or after since, most
// frequent first. A zero since counts everything.
func (j *Journal) Counts(ctx context.Context, since time.Time) ([]Count, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	var sinceNanos int64
	if !since.IsZero() {
		sinceNanos = since.UnixNano()
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT chord, COUNT(*), MIN(at), MAX(at)
FROM chord_events
WHERE at >= ?
GROUP BY chord
ORDER BY COUNT(*) DESC, chord ASC`, sinceNanos)
	if err != nil {
		return nil, fmt.Errorf("journal: counts: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var (
			c           Count
			first, last int64
		)
		if err := rows.Scan(&c.Chord, &c.N, &first, &last); err != nil {
			return nil, fmt.Errorf("journal: scan counts: %w", err)
		}
		c.First = time.Unix(0, first)
		c.Last = time.Unix(0, last)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: counts: %w", err)
	}
	return out, nil
}

// Sessions returns the number of distinct capture sessions with at least one
// activation at or after since.
func (j *Journal) Sessions(ctx context.Context, since time.Time) (int64, error) {
	if j.closed.Load() {
		return 0, ErrClosed
	}
	var sinceNanos int64
	if !since.IsZero() {
		sinceNanos = since.UnixNano()
	}
	var n int64
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_id) FROM chord_events WHERE at >= ?`, sinceNanos).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("journal: sessions: %w", err)
	}
	return n, nil
}

// Prune deletes activations older than before and returns how many rows
// were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	if j.closed.Load() {
		return 0, ErrClosed
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM chord_events WHERE at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return n, nil
}

// Close releases the database. Later calls return ErrClosed from every
// method except Close, which is idempotent.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	stmtErr := j.insert.Close()
	dbErr := j.db.Close()
	return errors.Join(stmtErr, dbErr)
}
