package fanout

import (
	"fmt"

	"github.com/ShayCichocki/cactuscall/internal/workflow"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// Shape describes the tree AttachChildren would build.
type Shape struct {
	// Items is the number of work jobs.
	Items int
	// Groups is the number of grouping jobs created.
	Groups int
	// Depth is the number of grouping levels between the parent and the
	// deepest work job.
	Depth int
	// MaxFanout is the largest direct-child count in the tree.
	MaxFanout int
	// Widths holds the number of grouping jobs at each level below the parent.
	Widths []int
}

// Plan computes the Shape for n work items without touching a real engine.
func Plan(n, maxChildrenPerJob int) (Shape, error) {
	root := &planNode{}
	work := make([]workflow.Job, n)
	for i := range work {
		work[i] = &planNode{leaf: true}
	}
	newGroup := func() workflow.Job { return &planNode{} }
	if err := AttachChildren(root, work, maxChildrenPerJob, newGroup); err != nil {
		return Shape{}, err
	}

	s := Shape{Items: n}
	level := []*planNode{root}
	for depth := 0; len(level) > 0; depth++ {
		var next []*planNode
		groups := 0
		for _, p := range level {
			if len(p.children) > s.MaxFanout {
				s.MaxFanout = len(p.children)
			}
			if p != root && !p.leaf {
				groups++
			}
			next = append(next, p.children...)
		}
		if depth > 0 && groups > 0 {
			s.Widths = append(s.Widths, groups)
			s.Groups += groups
			s.Depth = depth
		}
		level = next
	}
	return s, nil
}

// planNode is a counting stand-in for a workflow job.
type planNode struct {
	leaf     bool
	children []*planNode
}

func (p *planNode) ID() string                        { return fmt.Sprintf("%p", p) }
func (p *planNode) Name() string                      { return "plan" }
func (p *planNode) Requirements() models.Requirements { return models.Requirements{} }
func (p *planNode) AddFollowOn(workflow.Job) error    { return nil }

func (p *planNode) AddChild(c workflow.Job) error {
	p.children = append(p.children, c.(*planNode))
	return nil
}

func (p *planNode) Children() []workflow.Job {
	out := make([]workflow.Job, len(p.children))
	for i, c := range p.children {
		out[i] = c
	}
	return out
}
