// Package audit provides a SQLite-backed event log of document lifecycle
// transitions. The JSON state files hold only the current state of each
// document; the audit log keeps the history (uploaded, processing, completed,
// failed, retried, deleted) for debugging ingestion problems after the fact.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Event names recorded by the ingestion pipeline and HTTP handlers.
const (
	EventUploaded   = "uploaded"
	EventProcessing = "processing"
	EventCompleted  = "completed"
	EventFailed     = "failed"
	EventRetried    = "retried"
	EventDeleted    = "deleted"
)

// Event is one recorded lifecycle transition.
type Event struct {
	// NotebookID is the owning notebook.
	NotebookID string
	// DocumentID is the document that transitioned.
	DocumentID string
	// Name is one of the Event* constants.
	Name string
	// Detail is an optional human-readable note (e.g. the failure message).
	Detail string
	// CreatedAt is when the event was persisted.
	CreatedAt time.Time
}

// Log persists lifecycle events. Implementations must be safe for concurrent
// use; writes are best effort and must never block a user-visible operation.
type Log interface {
	// Record persists one event.
	Record(ctx context.Context, ev Event) error
	// Recent returns the most recent n events for the document, oldest-first.
	Recent(ctx context.Context, documentID string, n int) ([]Event, error)
	// Close releases any resources held by the log.
	Close() error
}

// SQLiteLog is a Log backed by a local SQLite database.
type SQLiteLog struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the audit database. It resolves
// to ~/.notebookd/audit.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("audit: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".notebookd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("audit: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "audit.db"), nil
}

// Open opens (or creates) a SQLiteLog at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteLog, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// migrate creates the schema if it does not already exist.
func (l *SQLiteLog) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS document_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    notebook_id TEXT    NOT NULL,
    document_id TEXT    NOT NULL,
    name        TEXT    NOT NULL,
    detail      TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_document_events_document_created
    ON document_events (document_id, created_at);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record persists one event.
func (l *SQLiteLog) Record(ctx context.Context, ev Event) error {
	const q = `INSERT INTO document_events (notebook_id, document_id, name, detail, created_at) VALUES (?, ?, ?, ?, ?)`
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := l.db.ExecContext(ctx, q, ev.NotebookID, ev.DocumentID, ev.Name, ev.Detail, ts.Unix()); err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n events for the document, oldest-first.
// Uses a subquery to select the tail then re-order for display.
func (l *SQLiteLog) Recent(ctx context.Context, documentID string, n int) ([]Event, error) {
	const q = `
SELECT notebook_id, document_id, name, detail, created_at FROM (
    SELECT id, notebook_id, document_id, name, detail, created_at
    FROM   document_events
    WHERE  document_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := l.db.QueryContext(ctx, q, documentID, n)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts int64
		if err := rows.Scan(&ev.NotebookID, &ev.DocumentID, &ev.Name, &ev.Detail, &ts); err != nil {
			return nil, fmt.Errorf("audit: recent scan: %w", err)
		}
		ev.CreatedAt = time.Unix(ts, 0)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: recent rows: %w", err)
	}
	return events, nil
}

// Close releases the database connection pool.
func (l *SQLiteLog) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("audit: close: %w", err)
	}
	return nil
}

// Nop is a Log that records nothing. Used when auditing is disabled.
type Nop struct{}

func (Nop) Record(ctx context.Context, ev Event) error { return nil }

func (Nop) Recent(ctx context.Context, documentID string, n int) ([]Event, error) {
	return nil, nil
}

func (Nop) Close() error { return nil }
