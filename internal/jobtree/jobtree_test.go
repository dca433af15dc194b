package jobtree

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/cactuscall/internal/resources"
	"github.com/ShayCichocki/cactuscall/internal/workflow"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

type order struct {
	mu    sync.Mutex
	names []string
}

func (o *order) add(name string) {
	o.mu.Lock()
	o.names = append(o.names, name)
	o.mu.Unlock()
}

func (o *order) index(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, n := range o.names {
		if n == name {
			return i
		}
	}
	return -1
}

func recordingJob(o *order, name string) *Job {
	return NewJob(name, models.Requirements{}, func(ctx context.Context, j *Job) (any, error) {
		o.add(j.Name())
		return j.Name(), nil
	})
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (f *fakeRecorder) RecordJob(_ context.Context, rec Record) error {
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
	return nil
}

func TestNewJobRoundsRequirements(t *testing.T) {
	j := NewJob("align", models.Requirements{Memory: 1, Disk: 1, Cores: 2}, nil)
	req := j.Requirements()
	assert.Equal(t, int64(resources.DefaultGranularity), req.Memory)
	assert.Equal(t, int64(resources.DefaultGranularity+resources.DefaultDiskSurcharge), req.Disk)
	assert.Equal(t, 2.0, req.Cores)
	assert.Equal(t, KindWork, j.Kind())

	g := NewGroup()
	assert.Equal(t, KindGroup, g.Kind())
	assert.Contains(t, g.Name(), "group-")
}

func TestAddChildSingleParent(t *testing.T) {
	a, b, c := NewGroup(), NewGroup(), NewGroup()
	require.NoError(t, a.AddChild(c))
	assert.Equal(t, a.ID(), c.ParentID())

	err := b.AddChild(c)
	assert.ErrorIs(t, err, workflow.ErrAlreadyAttached)
	assert.Error(t, a.AddChild(a))
	assert.Len(t, a.Children(), 1)
}

func TestResultBeforeRun(t *testing.T) {
	_, err := NewGroup().Result()
	assert.ErrorIs(t, err, ErrNotRun)
}

func TestRunnerOrder(t *testing.T) {
	o := &order{}
	root := recordingJob(o, "root")
	child := recordingJob(o, "child")
	grandchild := recordingJob(o, "grandchild")
	follow := recordingJob(o, "follow")

	require.NoError(t, root.AddChild(child))
	require.NoError(t, child.AddChild(grandchild))
	require.NoError(t, root.AddFollowOn(follow))

	require.NoError(t, NewRunner(0).Run(context.Background(), root))

	assert.Less(t, o.index("root"), o.index("child"))
	assert.Less(t, o.index("child"), o.index("grandchild"))
	assert.Less(t, o.index("grandchild"), o.index("follow"))

	v, err := grandchild.Result()
	require.NoError(t, err)
	assert.Equal(t, "grandchild", v)
}

func TestRunnerParallelismBound(t *testing.T) {
	var running, peak int32
	root := NewGroup()
	for i := 0; i < 10; i++ {
		j := NewJob("sleep", models.Requirements{}, func(ctx context.Context, j *Job) (any, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		})
		require.NoError(t, root.AddChild(j))
	}

	require.NoError(t, NewRunner(2).Run(context.Background(), root))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Positive(t, atomic.LoadInt32(&peak))
}

func TestRunnerFailure(t *testing.T) {
	boom := errors.New("boom")
	root := NewGroup()
	bad := NewJob("bad", models.Requirements{}, func(ctx context.Context, j *Job) (any, error) {
		return nil, boom
	})
	after := NewJob("after", models.Requirements{}, func(ctx context.Context, j *Job) (any, error) {
		return "ran", nil
	})
	require.NoError(t, root.AddChild(bad))
	require.NoError(t, root.AddFollowOn(after))

	rec := &fakeRecorder{}
	r := NewRunner(1)
	r.Recorder = rec
	err := r.Run(context.Background(), root)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "job bad")

	_, err = bad.Result()
	assert.ErrorIs(t, err, boom)
	_, err = after.Result()
	assert.ErrorIs(t, err, ErrNotRun)

	var statuses []Status
	for _, rc := range rec.records {
		if rc.ID == bad.ID() {
			statuses = append(statuses, rc.Status)
			if rc.Status == StatusFailed {
				assert.Equal(t, "boom", rc.Error)
			}
			assert.Equal(t, root.ID(), rc.ParentID)
		}
	}
	assert.Equal(t, []Status{StatusRunning, StatusFailed}, statuses)
}

func TestRunnerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j := NewJob("never", models.Requirements{}, func(ctx context.Context, j *Job) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, NewRunner(1).Run(ctx, j), context.Canceled)
	_, err := j.Result()
	assert.ErrorIs(t, err, ErrNotRun)
}

func TestCollectAndLeaves(t *testing.T) {
	root := NewGroup()
	g1, g2 := NewGroup(), NewGroup()
	require.NoError(t, root.AddChild(g1))
	require.NoError(t, root.AddChild(g2))
	for i := 0; i < 3; i++ {
		require.NoError(t, g1.AddChild(NewJob("w", models.Requirements{}, nil)))
	}
	require.NoError(t, g2.AddChild(NewJob("w", models.Requirements{}, nil)))

	s := Collect(root)
	assert.Equal(t, Stats{Units: 6, Groups: 2, Work: 4, MaxFanout: 3, Depth: 2}, s)
	assert.Len(t, Leaves(root), 4)
}
