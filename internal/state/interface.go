package state

import (
	"io"

	"github.com/ShayCichocki/cactuscall/internal/workflow"
)

// RunStore handles run-related persistence operations.
type RunStore interface {
	CreateRun(r *Run) error
	GetRun(id string) (*Run, error)
	FinishRun(id string, status RunStatus) error
	ListRuns(status *RunStatus) ([]Run, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
	ListJobs(runID string) ([]JobRow, error)
	Blobs() *BlobStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore         = (*DB)(nil)
	_ Migrator           = (*DB)(nil)
	_ RunStore           = (*DB)(nil)
	_ workflow.FileStore = (*BlobStore)(nil)
)
