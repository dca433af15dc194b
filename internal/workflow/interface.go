// Package workflow declares the slice of the workflow engine that the
// scheduling and execution core depends on. The engine itself (durable job
// storage, retries, DAG execution) lives behind these interfaces.
package workflow

import (
	"context"
	"errors"

	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// ErrAlreadyAttached is returned when a job is attached to a second parent.
var ErrAlreadyAttached = errors.New("job already has a parent")

// Job is a schedulable unit of work.
type Job interface {
	// ID returns the engine-assigned identifier.
	ID() string
	// Name returns the human-readable unit name.
	Name() string
	// Requirements returns the (already rounded) resource requirements.
	Requirements() models.Requirements
	// AddChild schedules child to run after this job, in parallel with its
	// siblings.
	AddChild(child Job) error
	// AddFollowOn schedules next to run after this job and all of its
	// descendants finish.
	AddFollowOn(next Job) error
	// Children returns the direct children in attachment order.
	Children() []Job
}

// FileID is an opaque content-derived identifier of a stored blob.
type FileID string

// FileStore is the engine's durable content-addressed blob store.
type FileStore interface {
	// WriteGlobalFile stores the file at localPath and returns its id.
	WriteGlobalFile(ctx context.Context, localPath string) (FileID, error)
	// ReadGlobalFile copies the blob with the given id to localPath.
	ReadGlobalFile(ctx context.Context, id FileID, localPath string) error
	// Size returns the size in bytes of the blob with the given id.
	Size(ctx context.Context, id FileID) (int64, error)
}
