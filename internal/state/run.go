package state

import (
	"database/sql"
	"fmt"
	"os"
	"time"
)

// RunStatus represents the status of a fanout run.
type RunStatus string

const (
	RunActive      RunStatus = "active"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunCanceled    RunStatus = "canceled"
	RunInterrupted RunStatus = "interrupted"
)

// Run is one execution of a fanout manifest.
type Run struct {
	ID         string     `json:"id"`
	Manifest   string     `json:"manifest"`
	Backend    string     `json:"backend"`
	Units      int        `json:"units"`
	PID        int        `json:"pid"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     RunStatus  `json:"status"`
}

// CreateRun creates a new run owned by the current process.
func (db *DB) CreateRun(r *Run) error {
	if r.PID == 0 {
		r.PID = os.Getpid()
	}
	if r.Status == "" {
		r.Status = RunActive
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, manifest, backend, units, pid, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Manifest, r.Backend, r.Units, r.PID, formatTime(r.StartedAt), string(r.Status))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil if there is no such run.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, manifest, backend, units, pid, started_at, finished_at, status
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// FinishRun records the final status of a run.
func (db *DB) FinishRun(id string, status RunStatus) error {
	_, err := db.Exec(`
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
	`, string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// ListRuns returns runs, newest first, optionally filtered by status.
func (db *DB) ListRuns(status *RunStatus) ([]Run, error) {
	query := `
		SELECT id, manifest, backend, units, pid, started_at, finished_at, status
		FROM runs`
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY started_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	if err := s.Scan(&r.ID, &r.Manifest, &r.Backend, &r.Units, &r.PID, &startedAt, &finishedAt, &r.Status); err != nil {
		return nil, err
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}
