package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/cactuscall/internal/jobtree"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// JobRow is the stored state of one job.
type JobRow struct {
	ID           string
	RunID        string
	ParentID     string
	Name         string
	Kind         jobtree.Kind
	Requirements models.Requirements
	Status       jobtree.Status
	Error        string
	StartedAt    *time.Time
	UpdatedAt    time.Time
}

// JobRecorder stores the lifecycle of the jobs of one run.
type JobRecorder struct {
	db    *DB
	runID string
}

// Recorder returns a jobtree.Recorder writing into run runID.
func (db *DB) Recorder(runID string) *JobRecorder {
	return &JobRecorder{db: db, runID: runID}
}

// RecordJob upserts the job's latest state.
func (r *JobRecorder) RecordJob(_ context.Context, rec jobtree.Record) error {
	at := formatTime(rec.At)
	var startedAt any
	if rec.Status == jobtree.StatusRunning {
		startedAt = at
	}
	var parent any
	if rec.ParentID != "" {
		parent = rec.ParentID
	}
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}
	_, err := r.db.Exec(`
		INSERT INTO jobs (id, run_id, parent_id, name, kind, memory, cores, disk, preemptable, status, error, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			started_at = COALESCE(jobs.started_at, excluded.started_at),
			updated_at = excluded.updated_at
	`, rec.ID, r.runID, parent, rec.Name, string(rec.Kind),
		rec.Requirements.Memory, rec.Requirements.Cores, rec.Requirements.Disk, rec.Requirements.Preemptable,
		string(rec.Status), errText, startedAt, at)
	if err != nil {
		return fmt.Errorf("record job %s: %w", rec.ID, err)
	}
	return nil
}

// ListJobs returns the jobs of a run in insertion order.
func (db *DB) ListJobs(runID string) ([]JobRow, error) {
	rows, err := db.Query(`
		SELECT id, run_id, parent_id, name, kind, memory, cores, disk, preemptable, status, error, started_at, updated_at
		FROM jobs WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRow
	for rows.Next() {
		var j JobRow
		var parent, errText, startedAt sql.NullString
		var updatedAt string
		if err := rows.Scan(&j.ID, &j.RunID, &parent, &j.Name, &j.Kind,
			&j.Requirements.Memory, &j.Requirements.Cores, &j.Requirements.Disk, &j.Requirements.Preemptable,
			&j.Status, &errText, &startedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.ParentID = parent.String
		j.Error = errText.String
		j.StartedAt = parseNullableTime(startedAt)
		j.UpdatedAt, _ = parseTime(updatedAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// JobCounts returns the number of jobs of a run per status.
func (db *DB) JobCounts(runID string) (map[jobtree.Status]int, error) {
	rows, err := db.Query(`
		SELECT status, COUNT(*) FROM jobs WHERE run_id = ? GROUP BY status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[jobtree.Status]int)
	for rows.Next() {
		var status jobtree.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

var _ jobtree.Recorder = (*JobRecorder)(nil)
