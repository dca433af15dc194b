// Package fanout attaches large numbers of child jobs to a parent through a
// balanced tree of grouping jobs, so that no job ever has more than a fixed
// number of direct children.
//
// A flat fanout of N children forces the workflow store to serialize N
// parent-pointer updates against a single job. Spreading the children over a
// tree bounds every job's child count and lets those writes happen in
// parallel, at the cost of a few empty grouping jobs.
package fanout

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/cactuscall/internal/workflow"
)

// DefaultMaxChildrenPerJob is the fanout bound used when none is configured.
const DefaultMaxChildrenPerJob = 20

// ErrInvalidFanout indicates a fanout bound below 2, for which no tree can
// reduce the child count.
var ErrInvalidFanout = errors.New("maxChildrenPerJob must be at least 2")

// GroupFactory creates an empty grouping job.
type GroupFactory func() workflow.Job

// AttachChildren attaches every job in work below parent, in order, such that
// parent and every grouping job created on the way has at most
// maxChildrenPerJob direct children.
//
// With len(work) <= maxChildrenPerJob the jobs become direct children of
// parent. Otherwise the tree is built breadth-first for
// floor(log_max(len(work))) levels: each frontier job is replaced by up to
// maxChildrenPerJob new grouping jobs until the frontier is large enough to
// host all of work, and jobs that are not expanded carry over into the next
// frontier. The work is then distributed over the final frontier in order.
func AttachChildren(parent workflow.Job, work []workflow.Job, maxChildrenPerJob int, newGroup GroupFactory) error {
	if maxChildrenPerJob < 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidFanout, maxChildrenPerJob)
	}

	if len(work) <= maxChildrenPerJob {
		for _, w := range work {
			if err := parent.AddChild(w); err != nil {
				return fmt.Errorf("attach child %s: %w", w.ID(), err)
			}
		}
		return nil
	}

	if newGroup == nil {
		return fmt.Errorf("attach %d children: no group factory", len(work))
	}

	hosts := ceilDiv(len(work), maxChildrenPerJob)
	numLevels := levels(len(work), maxChildrenPerJob)

	frontier := []workflow.Job{parent}
	for level := 0; level < numLevels && len(frontier) < hosts; level++ {
		next := make([]workflow.Job, 0, hosts)
		for i, unit := range frontier {
			// Frontier jobs not yet visited in this level will carry over.
			pending := len(frontier) - i - 1
			if len(next)+1+pending >= hosts {
				next = append(next, unit)
				continue
			}
			k := hosts - len(next) - pending
			if k > maxChildrenPerJob {
				k = maxChildrenPerJob
			}
			for c := 0; c < k; c++ {
				g := newGroup()
				if err := unit.AddChild(g); err != nil {
					return fmt.Errorf("attach group %s: %w", g.ID(), err)
				}
				next = append(next, g)
			}
		}
		frontier = next
	}

	added := 0
	for _, host := range frontier {
		for c := 0; c < maxChildrenPerJob && added < len(work); c++ {
			if err := host.AddChild(work[added]); err != nil {
				return fmt.Errorf("attach child %s: %w", work[added].ID(), err)
			}
			added++
		}
	}
	if added != len(work) {
		panic(fmt.Sprintf("fanout: attached %d of %d children", added, len(work)))
	}
	return nil
}

// levels returns floor(log_base(n)) for n >= 1, computed without floating
// point so exact powers are never misrounded.
func levels(n, base int) int {
	l := 0
	for p := base; p <= n; p *= base {
		l++
		if p > n/base {
			break
		}
	}
	return l
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
