// Package journal persists pipeline runs and their step outcomes in SQLite so
// that an interrupted run is visible to the next --status invocation.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("journal: not found")

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string
	Verb       string
	Status     string
	Cursor     int
	FailedStep int
	FailedName string
	Snapshot   string
	Outcome    string
	Error      string
	StartedAt  time.Time
	EndedAt    time.Time
}

// StepRecord is one row of the steps table.
type StepRecord struct {
	Index    int
	Name     string
	OK       bool
	Error    string
	Attempts int
	Duration time.Duration
}

// Journal is an open run journal.
type Journal struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	verb         TEXT NOT NULL,
	status       TEXT NOT NULL,
	cursor       INTEGER NOT NULL DEFAULT -1,
	failed_step  INTEGER NOT NULL DEFAULT -1,
	failed_name  TEXT NOT NULL DEFAULT '',
	snapshot     TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	ended_at     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS steps (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx          INTEGER NOT NULL,
	name         TEXT NOT NULL,
	ok           INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, idx)
);
CREATE INDEX IF NOT EXISTS runs_started ON runs(started_at);
`

// Open creates or opens the journal at path with WAL mode, a 5 second busy
// timeout and foreign keys enabled.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Journal{db: db, path: path}, nil
}

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// Fixed-width so that text ordering in SQL matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// BeginRun inserts rec.
func (j *Journal) BeginRun(ctx context.Context, rec RunRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, verb, status, cursor, failed_step, snapshot, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Verb, rec.Status, rec.Cursor, rec.FailedStep, rec.Snapshot, formatTime(rec.StartedAt))
	if err != nil {
		return fmt.Errorf("journal: begin run %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateRun overwrites the mutable columns of rec.
func (j *Journal) UpdateRun(ctx context.Context, rec RunRecord) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, cursor = ?, failed_step = ?, failed_name = ?,
			snapshot = ?, outcome = ?, error = ?, ended_at = ?
		WHERE id = ?`,
		rec.Status, rec.Cursor, rec.FailedStep, rec.FailedName, rec.Snapshot,
		rec.Outcome, rec.Error, formatTime(rec.EndedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("journal: update run %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordStep stores the outcome of one step of run runID.
func (j *Journal) RecordStep(ctx context.Context, runID string, step StepRecord) error {
	ok := 0
	if step.OK {
		ok = 1
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, idx, name, ok, error, attempts, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO UPDATE SET
			ok = excluded.ok, error = excluded.error,
			attempts = excluded.attempts, duration_ms = excluded.duration_ms`,
		runID, step.Index, step.Name, ok, step.Error, step.Attempts, step.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("journal: record step %d of %s: %w", step.Index, runID, err)
	}
	return nil
}

const runColumns = `id, verb, status, cursor, failed_step, failed_name, snapshot, outcome, error, started_at, ended_at`

func scanRun(row interface{ Scan(...any) error }) (RunRecord, error) {
	var rec RunRecord
	var started, ended string
	err := row.Scan(&rec.ID, &rec.Verb, &rec.Status, &rec.Cursor, &rec.FailedStep, &rec.FailedName,
		&rec.Snapshot, &rec.Outcome, &rec.Error, &started, &ended)
	if err != nil {
		return rec, err
	}
	rec.StartedAt = parseTime(started)
	rec.EndedAt = parseTime(ended)
	return rec, nil
}

// GetRun returns the run with id.
func (j *Journal) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("journal: get run: %w", err)
	}
	return rec, nil
}

// LatestRun returns the most recently started run.
func (j *Journal) LatestRun(ctx context.Context) (RunRecord, error) {
	runs, err := j.ListRuns(ctx, 1)
	if err != nil {
		return RunRecord{}, err
	}
	if len(runs) == 0 {
		return RunRecord{}, ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Steps returns the recorded steps of run runID in order.
func (j *Journal) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT idx, name, ok, error, attempts, duration_ms FROM steps
		WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: list steps: %w", err)
	}
	defer rows.Close()
	var out []StepRecord
	for rows.Next() {
		var s StepRecord
		var ok int
		var ms int64
		if err := rows.Scan(&s.Index, &s.Name, &ok, &s.Error, &s.Attempts, &ms); err != nil {
			return nil, fmt.Errorf("journal: scan step: %w", err)
		}
		s.OK = ok == 1
		s.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

// Interrupted returns runs still marked running, newest first. Only one
// process runs at a time, so any such row was left by a crash or Ctrl+C.
func (j *Journal) Interrupted(ctx context.Context) ([]RunRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE status IN ('running', 'failed') AND outcome != 'abandoned'
		ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("journal: interrupted runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkAbandoned closes an interrupted run so it is reported once.
func (j *Journal) MarkAbandoned(ctx context.Context, id string, note string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = 'failed', outcome = 'abandoned', error = ?, ended_at = ?
		WHERE id = ? AND status IN ('running', 'failed') AND outcome != 'abandoned'`, note, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("journal: mark abandoned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
