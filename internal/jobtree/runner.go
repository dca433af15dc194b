package jobtree

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// Status is the lifecycle state of a job as reported to a Recorder.
type Status string

const (
	// StatusRunning indicates the payload has started.
	StatusRunning Status = "running"
	// StatusDone indicates the payload finished without error.
	StatusDone Status = "done"
	// StatusFailed indicates the payload returned an error.
	StatusFailed Status = "failed"
)

// Record is one lifecycle transition of a job.
type Record struct {
	ID           string
	ParentID     string
	Name         string
	Kind         Kind
	Requirements models.Requirements
	Status       Status
	Error        string
	At           time.Time
}

// Recorder persists job lifecycle transitions.
type Recorder interface {
	RecordJob(ctx context.Context, rec Record) error
}

// Runner executes a job tree. A job runs first, then all of its children
// concurrently, then its follow-ons.
type Runner struct {
	// Parallelism bounds how many job payloads execute at once. Zero means
	// unbounded.
	Parallelism int
	// Recorder, if set, receives every lifecycle transition.
	Recorder Recorder
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})

	sem chan struct{}
}

// NewRunner creates a runner with the given parallelism.
func NewRunner(parallelism int) *Runner {
	return &Runner{
		Parallelism: parallelism,
		debugLog:    func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (r *Runner) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// Run executes root and everything reachable from it. The first failing job
// cancels the rest of the tree and its error is returned.
func (r *Runner) Run(ctx context.Context, root *Job) error {
	if r.debugLog == nil {
		r.debugLog = func(format string, args ...interface{}) {}
	}
	if r.Parallelism > 0 {
		r.sem = make(chan struct{}, r.Parallelism)
	} else {
		r.sem = nil
	}
	return r.run(ctx, root)
}

func (r *Runner) run(ctx context.Context, j *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.execute(ctx, j); err != nil {
		return err
	}

	if err := r.runAll(ctx, j.childJobs()); err != nil {
		return err
	}
	return r.runAll(ctx, j.followOnJobs())
}

func (r *Runner) runAll(ctx context.Context, jobs []*Job) error {
	if len(jobs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range jobs {
		c := c
		g.Go(func() error {
			return r.run(gctx, c)
		})
	}
	return g.Wait()
}

// execute runs the payload of a single job under the parallelism bound.
func (r *Runner) execute(ctx context.Context, j *Job) error {
	if j.fn == nil {
		j.setResult(nil, nil)
		r.record(ctx, j, StatusDone, nil)
		return nil
	}

	if r.sem != nil {
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-r.sem }()
	}

	r.record(ctx, j, StatusRunning, nil)
	r.debugLog("[jobtree] running %s (%s)", j.name, j.id)

	v, err := j.fn(ctx, j)
	j.setResult(v, err)
	if err != nil {
		r.record(ctx, j, StatusFailed, err)
		return fmt.Errorf("job %s: %w", j.name, err)
	}
	r.record(ctx, j, StatusDone, nil)
	return nil
}

func (r *Runner) record(ctx context.Context, j *Job, status Status, runErr error) {
	if r.Recorder == nil {
		return
	}
	rec := Record{
		ID:           j.id,
		ParentID:     j.ParentID(),
		Name:         j.name,
		Kind:         j.kind,
		Requirements: j.req,
		Status:       status,
		At:           time.Now(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := r.Recorder.RecordJob(ctx, rec); err != nil {
		r.debugLog("[jobtree] record %s %s: %v", j.id, status, err)
	}
}
