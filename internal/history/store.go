// Package history manages the SQLite database that records marketplace
// import runs.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"marketsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS import_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at  TEXT    NOT NULL,
    finished_at TEXT    NOT NULL DEFAULT '',
    code        INTEGER NOT NULL DEFAULT 0,
    detail      TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_started_at ON import_runs (started_at);
`

// Run is one recorded import: when it started, when it finished, and the
// job code it finished with. FinishedAt is zero while the run is open.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Code       model.ImportCode
	Detail     string
}

// Finished reports whether the run has been closed with a result code.
func (r *Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Store is the SQLite-backed import audit log.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the history database:
// ~/.local/share/marketsync/history.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "marketsync", "history.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// BeginRun opens a new import run row and returns its ID.
func (s *Store) BeginRun(ctx context.Context, startedAt time.Time) (int64, error) {
	const q = `INSERT INTO import_runs (started_at) VALUES (?)`
	res, err := s.db.ExecContext(ctx, q, formatTime(startedAt))
	if err != nil {
		return 0, fmt.Errorf("recording import start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading import run id: %w", err)
	}
	return id, nil
}

// FinishRun closes the run with its terminal code and detail payload.
func (s *Store) FinishRun(ctx context.Context, id int64, finishedAt time.Time, code model.ImportCode, detail string) error {
	const q = `UPDATE import_runs SET finished_at = ?, code = ?, detail = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, formatTime(finishedAt), int(code), detail, id); err != nil {
		return fmt.Errorf("recording import result id=%d: %w", id, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	const q = `
		SELECT id, started_at, finished_at, code, detail
		FROM import_runs ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("querying import runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastRun returns the most recent run, or (nil, nil) when the log is empty.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	const q = `
		SELECT id, started_at, finished_at, code, detail
		FROM import_runs ORDER BY id DESC LIMIT 1`
	return scanRun(s.db.QueryRowContext(ctx, q))
}

// IsEmpty reports whether no import has ever been recorded.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_runs`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking if history is empty: %w", err)
	}
	return count == 0, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanRun can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var started, finished string
	var code int

	err := s.Scan(&run.ID, &started, &finished, &code, &run.Detail)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning import run row: %w", err)
	}

	run.Code = model.ImportCode(code)
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	return &run, nil
}

// formatTime serializes a time as RFC3339Nano, or "" for the zero value.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime is the inverse of formatTime.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
