package jobtree

// Stats summarizes the shape of a job tree below (and including) its root.
type Stats struct {
	// Units is the number of jobs reachable from the root, root excluded.
	Units int
	// Groups is the number of grouping jobs.
	Groups int
	// Work is the number of work jobs, root excluded.
	Work int
	// MaxFanout is the largest direct-child count of any job, root included.
	MaxFanout int
	// Depth is the number of levels below the root.
	Depth int
}

// Walk visits root and its descendants breadth-first through child edges.
// depth is 0 for the root. Returning false from fn stops the walk.
func Walk(root *Job, fn func(j *Job, depth int) bool) {
	type entry struct {
		job   *Job
		depth int
	}
	queue := []entry{{root, 0}}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if !fn(e.job, e.depth) {
			return
		}
		for _, c := range e.job.childJobs() {
			queue = append(queue, entry{c, e.depth + 1})
		}
	}
}

// Collect computes Stats for the tree rooted at root.
func Collect(root *Job) Stats {
	var s Stats
	Walk(root, func(j *Job, depth int) bool {
		if n := len(j.childJobs()); n > s.MaxFanout {
			s.MaxFanout = n
		}
		if depth > s.Depth {
			s.Depth = depth
		}
		if j == root {
			return true
		}
		s.Units++
		if j.kind == KindGroup {
			s.Groups++
		} else {
			s.Work++
		}
		return true
	})
	return s
}

// Leaves returns every job with no children, in breadth-first order.
func Leaves(root *Job) []*Job {
	var out []*Job
	Walk(root, func(j *Job, _ int) bool {
		if j != root && len(j.childJobs()) == 0 {
			out = append(out, j)
		}
		return true
	})
	return out
}
