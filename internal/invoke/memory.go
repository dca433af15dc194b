package invoke

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	cmdexec "github.com/ShayCichocki/cactuscall/internal/exec"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// ErrNoSample is returned by a MemorySampler when no reading is available yet,
// for example before the container has started.
var ErrNoSample = errors.New("no memory sample available")

// MemorySampler reads the peak memory of a running container.
type MemorySampler interface {
	Sample(ctx context.Context, h *models.ContainerHandle) (int64, error)
}

// cgroupLocations are tried in order, relative to the cgroup root.
var cgroupLocations = []string{
	"memory/docker/%s/memory.max_usage_in_bytes",
	"memory/system.slice/docker-%s.scope/memory.max_usage_in_bytes",
	"system.slice/docker-%s.scope/memory.peak",
}

// CgroupSampler samples docker containers through cgroup accounting files.
type CgroupSampler struct {
	Runner cmdexec.CommandRunner
	// Root is the cgroup mount point. Empty means /sys/fs/cgroup.
	Root string
}

// NewCgroupSampler creates a sampler resolving container ids with runner.
func NewCgroupSampler(runner cmdexec.CommandRunner) *CgroupSampler {
	return &CgroupSampler{Runner: runner, Root: "/sys/fs/cgroup"}
}

// Sample resolves the container id on first use and returns the peak usage
// in bytes.
func (s *CgroupSampler) Sample(ctx context.Context, h *models.ContainerHandle) (int64, error) {
	if h.ID == "" {
		out, err := s.Runner.Output(ctx, "docker", "inspect", "-f", "{{.Id}}", h.Name)
		if err != nil {
			// Not running yet.
			return 0, ErrNoSample
		}
		h.ID = strings.TrimSpace(string(out))
		if h.ID == "" {
			return 0, ErrNoSample
		}
	}

	root := s.Root
	if root == "" {
		root = "/sys/fs/cgroup"
	}
	for _, loc := range cgroupLocations {
		data, err := os.ReadFile(filepath.Join(root, fmt.Sprintf(loc, h.ID)))
		if err != nil {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing memory usage of %s: %w", h.Name, err)
		}
		return v, nil
	}
	return 0, ErrNoSample
}

// PeakTracker accumulates successive peak-memory samples. Peak counters only
// grow, so a smaller sample means the accounting source is broken and
// Observe panics.
type PeakTracker struct {
	peak int64
}

// Observe records a sample.
func (t *PeakTracker) Observe(v int64) {
	if v < t.peak {
		panic(fmt.Sprintf("peak memory decreased from %d to %d bytes", t.peak, v))
	}
	t.peak = v
}

// Peak returns the largest sample observed.
func (t *PeakTracker) Peak() int64 {
	return t.peak
}
