package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	path        TEXT NOT NULL DEFAULT '',
	template_id TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_events(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
`

// SQLite is an append-only event log in a SQLite database.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Record inserts ev.
func (s *SQLite) Record(ctx context.Context, ev Event) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO audit_events (id, run_id, stage, path, template_id, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.RunID, ev.Stage, ev.Path, ev.TemplateID, ev.Status, ev.Detail, ev.Time.UTC())
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT id, run_id, stage, path, template_id, status, detail, created_at
		FROM audit_events ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
}

// Run returns the events of one enforcement run in insertion order.
func (s *SQLite) Run(ctx context.Context, runID string) ([]Event, error) {
	return s.query(ctx, `
		SELECT id, run_id, stage, path, template_id, status, detail, created_at
		FROM audit_events WHERE run_id = ? ORDER BY rowid
	`, runID)
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var at time.Time
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Stage, &ev.Path, &ev.TemplateID, &ev.Status, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		ev.Time = at
		out = append(out, ev)
	}
	return out, rows.Err()
}
