// Package store keeps a local SQLite history of pipeline runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			subject TEXT,
			status TEXT NOT NULL,
			health TEXT,
			artifact TEXT,
			error TEXT,
			started_at TEXT NOT NULL,
			duration_ms INTEGER,
			llm_calls INTEGER DEFAULT 0,
			mcp_calls INTEGER DEFAULT 0,
			tokens INTEGER DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT,
			duration_ms INTEGER,
			error TEXT,
			PRIMARY KEY (run_id, position)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize history schema: %w", err)
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

// RecordRun stores a run and its steps. Recording the same id twice
// replaces the earlier record.
func (h *HistoryStore) RecordRun(ctx context.Context, run Run) error {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_steps WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(id, mode, subject, status, health, artifact, error, started_at, duration_ms, llm_calls, mcp_calls, tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Subject, run.Status, run.Health, run.Artifact, run.Error,
		formatTime(run.StartedAt), run.Duration.Milliseconds(), run.LLMCalls, run.MCPCalls, run.Tokens)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, st := range run.Steps {
		_, err := tx.ExecContext(ctx, `INSERT INTO run_steps
			(run_id, position, name, status, started_at, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, st.Name, st.Status, formatTime(st.StartedAt), st.Duration.Milliseconds(), st.Error)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", st.Name, err)
		}
	}

	return tx.Commit()
}

// RecentRuns returns the latest runs, newest first, with their steps.
func (h *HistoryStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := h.DB.QueryContext(ctx, `
		SELECT id, mode, subject, status, health, artifact, error, started_at, duration_ms, llm_calls, mcp_calls, tokens
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                                  Run
			subject, health, artifact, errText sql.NullString
			started                            string
			durationMS                         int64
		)
		if err := rows.Scan(&r.ID, &r.Mode, &subject, &r.Status, &health, &artifact, &errText,
			&started, &durationMS, &r.LLMCalls, &r.MCPCalls, &r.Tokens); err != nil {
			return nil, err
		}
		r.Subject = subject.String
		r.Health = health.String
		r.Artifact = artifact.String
		r.Error = errText.String
		r.StartedAt = parseTime(started)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		steps, err := h.steps(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

func (h *HistoryStore) steps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := h.DB.QueryContext(ctx, `
		SELECT position, name, status, started_at, duration_ms, error
		FROM run_steps
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			st         Step
			started    sql.NullString
			durationMS int64
			errText    sql.NullString
		)
		if err := rows.Scan(&st.Position, &st.Name, &st.Status, &started, &durationMS, &errText); err != nil {
			return nil, err
		}
		st.StartedAt = parseTime(started.String)
		st.Duration = time.Duration(durationMS) * time.Millisecond
		st.Error = errText.String
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
