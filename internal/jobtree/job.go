// Package jobtree is an in-process workflow engine: a tree of jobs with
// children and follow-ons, executed by Runner. It implements workflow.Job so
// the fanout scheduler can shape it.
package jobtree

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/cactuscall/internal/resources"
	"github.com/ShayCichocki/cactuscall/internal/workflow"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// Kind distinguishes jobs that carry work from structural grouping jobs.
type Kind string

const (
	// KindWork is a job wrapping caller-supplied work.
	KindWork Kind = "work"
	// KindGroup is a payload-free job that only bounds fanout.
	KindGroup Kind = "group"
)

// RunFunc is the payload of a work job. Its return value becomes the job's
// result, readable through Result once the job has run.
type RunFunc func(ctx context.Context, j *Job) (any, error)

// ErrNotRun is returned by Result for a job that has not run.
var ErrNotRun = errors.New("job has not run")

// groupRequirements are requested by grouping jobs, which do no work.
var groupRequirements = models.Requirements{
	Memory:      resources.DefaultGranularity,
	Cores:       0.1,
	Preemptable: true,
}

// Job is a node of the tree.
type Job struct {
	id   string
	name string
	kind Kind
	req  models.Requirements
	fn   RunFunc

	mu        sync.Mutex
	attached  bool
	parentID  string
	children  []*Job
	followOns []*Job
	ran       bool
	result    any
	err       error
}

// NewJob creates a work job. Requirements are rounded with the default
// policy before they are attached.
func NewJob(name string, req models.Requirements, fn RunFunc) *Job {
	return NewJobWithPolicy(resources.DefaultPolicy(), name, req, fn)
}

// NewJobWithPolicy creates a work job whose requirements are rounded with p.
func NewJobWithPolicy(p resources.Policy, name string, req models.Requirements, fn RunFunc) *Job {
	return &Job{
		id:   uuid.New().String(),
		name: name,
		kind: KindWork,
		req:  p.Apply(req),
		fn:   fn,
	}
}

// NewGroup creates a grouping job.
func NewGroup() *Job {
	id := uuid.New().String()
	return &Job{
		id:   id,
		name: "group-" + id[:8],
		kind: KindGroup,
		req:  groupRequirements,
	}
}

// GroupFactory adapts NewGroup to the factory signature used by
// fanout.AttachChildren.
func GroupFactory() workflow.Job {
	return NewGroup()
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Name returns the job's name.
func (j *Job) Name() string { return j.name }

// Kind returns whether the job carries work or only groups children.
func (j *Job) Kind() Kind { return j.kind }

// Requirements returns the rounded requirements.
func (j *Job) Requirements() models.Requirements { return j.req }

// ParentID returns the id of the job this one was attached to, if any.
func (j *Job) ParentID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.parentID
}

// AddChild attaches child below j. A job can have only one parent.
func (j *Job) AddChild(child workflow.Job) error {
	c, err := j.adopt(child)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.children = append(j.children, c)
	j.mu.Unlock()
	return nil
}

// AddFollowOn schedules next after j and all of j's descendants.
func (j *Job) AddFollowOn(next workflow.Job) error {
	c, err := j.adopt(next)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.followOns = append(j.followOns, c)
	j.mu.Unlock()
	return nil
}

func (j *Job) adopt(other workflow.Job) (*Job, error) {
	c, ok := other.(*Job)
	if !ok {
		return nil, fmt.Errorf("attach %s: unsupported job type %T", other.ID(), other)
	}
	if c == j {
		return nil, fmt.Errorf("attach %s: job cannot be its own child", c.id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return nil, fmt.Errorf("attach %s to %s: %w", c.id, j.id, workflow.ErrAlreadyAttached)
	}
	c.attached = true
	c.parentID = j.id
	return c, nil
}

// Children returns the direct children in attachment order.
func (j *Job) Children() []workflow.Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]workflow.Job, len(j.children))
	for i, c := range j.children {
		out[i] = c
	}
	return out
}

func (j *Job) childJobs() []*Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*Job(nil), j.children...)
}

func (j *Job) followOnJobs() []*Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*Job(nil), j.followOns...)
}

// Result returns the value and error of the job's run, or ErrNotRun if the
// job has not run yet.
func (j *Job) Result() (any, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.ran {
		return nil, ErrNotRun
	}
	return j.result, j.err
}

func (j *Job) setResult(v any, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result, j.err, j.ran = v, err, true
}

// Verify Job implements workflow.Job at compile time.
var _ workflow.Job = (*Job)(nil)
