package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/cactuscall/pkg/models"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	fail    map[string]bool
	paths   map[string]string
}

func (f *fakeRunner) record(name string, args ...string) string {
	line := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, line)
	f.mu.Unlock()
	return line
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	line := f.record(name, args...)
	if f.fail[line] {
		return []byte("denied"), errors.New("exit status 1")
	}
	return []byte(f.outputs[line]), nil
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f.Run(ctx, "", name, args...)
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%s: not found", name)
}

type fakeSampler struct {
	values []int64
	i      int
}

func (s *fakeSampler) Sample(context.Context, *models.ContainerHandle) (int64, error) {
	if s.i >= len(s.values) {
		return 0, ErrNoSample
	}
	v := s.values[s.i]
	s.i++
	return v, nil
}

type fakeSandboxes struct {
	refs []string
	dir  string
	err  error
}

func (f *fakeSandboxes) Ensure(_ context.Context, ref string) (string, error) {
	f.refs = append(f.refs, ref)
	return f.dir, f.err
}
