package invoke

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/cactuscall/pkg/models"
)

func TestInferWorkDir(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	require.NoError(t, os.MkdirAll(a, 0755))
	require.NoError(t, os.MkdirAll(b, 0755))
	fa := filepath.Join(a, "x.fa")
	fb := filepath.Join(b, "y.fa")
	require.NoError(t, os.WriteFile(fa, nil, 0644))
	require.NoError(t, os.WriteFile(fb, nil, 0644))

	tests := []struct {
		name   string
		tokens []string
		want   string
	}{
		{"no paths", []string{"cactus_caf", "--help"}, "."},
		{"missing paths ignored", []string{filepath.Join(root, "nope.fa")}, "."},
		{"single file", []string{"tool", fa, "-x"}, a},
		{"two files same dir", []string{fa, filepath.Join(a, "x.fa")}, a},
		{"directory argument", []string{a}, root},
		{"files in sibling dirs", []string{fa, fb}, root},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferWorkDir(tt.tokens))
		})
	}
}

func TestCommonDir(t *testing.T) {
	assert.Equal(t, "/data/run", commonDir([]string{"/data/run/a", "/data/run/b"}))
	assert.Equal(t, "/data", commonDir([]string{"/data/run1", "/data/run2"}))
	assert.Equal(t, "/", commonDir([]string{"/a", "/b"}))
	assert.Equal(t, "", commonDir([]string{"rel", "/abs"}))
}

func TestRelativize(t *testing.T) {
	tokens := []string{"cat", "/w/in.fa", "--opt=/w/sub/x", "/other/y", "set -eo pipefail && cat /w/a | gzip > /w/b"}
	got := Relativize(tokens, "/w")
	assert.Equal(t, []string{"cat", "in.fa", "--opt=sub/x", "/other/y", "set -eo pipefail && cat a | gzip > b"}, got)

	assert.Equal(t, tokens, Relativize(tokens, "."))
	assert.Equal(t, []string{"a", "b"}, Relativize([]string{"/a", "/b"}, "/"))
}

func TestPipeScript(t *testing.T) {
	got := PipeScript([][]string{{"lastz", "a.fa", "b.fa"}, {"grep", "-v", "#"}, {"awk", "{print $1}"}})
	assert.Equal(t, `set -eo pipefail && lastz a.fa b.fa | grep -v '#' | awk '{print $1}'`, got)
}

func TestTimeVHelpers(t *testing.T) {
	argv := wrapTimeV([]string{"cactus_caf", "x"})
	assert.Equal(t, []string{"/usr/bin/time", "-v", "cactus_caf", "x"}, argv)
	assert.Equal(t, []string{"cactus_caf", "x"}, stripTimeV(argv))
	assert.Equal(t, []string{"x"}, stripTimeV([]string{"x"}))

	stderr := []byte("\tCommand being timed: \"echo\"\n\tMaximum resident set size (kbytes): 2048\n\tExit status: 0\n")
	rss, ok := parseMaxRSS(stderr)
	require.True(t, ok)
	assert.Equal(t, int64(2048*1024), rss)

	_, ok = parseMaxRSS([]byte("nothing here"))
	assert.False(t, ok)
}

func TestPeakTracker(t *testing.T) {
	var tr PeakTracker
	tr.Observe(10)
	tr.Observe(10)
	tr.Observe(25)
	assert.Equal(t, int64(25), tr.Peak())
	assert.Panics(t, func() { tr.Observe(24) })
}

func TestCgroupSampler(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{outputs: map[string]string{
		"docker inspect -f {{.Id}} v1name": "id-v1\n",
		"docker inspect -f {{.Id}} v2name": "id-v2\n",
	}}
	s := &CgroupSampler{Runner: runner, Root: root}

	v1 := filepath.Join(root, "memory", "docker", "id-v1")
	require.NoError(t, os.MkdirAll(v1, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(v1, "memory.max_usage_in_bytes"), []byte("4096\n"), 0644))

	v2 := filepath.Join(root, "system.slice", "docker-id-v2.scope")
	require.NoError(t, os.MkdirAll(v2, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(v2, "memory.peak"), []byte("8192\n"), 0644))

	h := &models.ContainerHandle{Name: "v1name"}
	got, err := s.Sample(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), got)
	assert.Equal(t, "id-v1", h.ID)

	got, err = s.Sample(context.Background(), &models.ContainerHandle{Name: "v2name"})
	require.NoError(t, err)
	assert.Equal(t, int64(8192), got)

	_, err = s.Sample(context.Background(), &models.ContainerHandle{Name: "gone", ID: "missing"})
	assert.ErrorIs(t, err, ErrNoSample)

	// The id is only resolved once.
	_, _ = s.Sample(context.Background(), h)
	assert.Len(t, runner.calls, 2)
}

func TestCgroupSamplerNotRunning(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"docker inspect -f {{.Id}} c": true}}
	s := &CgroupSampler{Runner: runner, Root: t.TempDir()}
	h := &models.ContainerHandle{Name: "c"}
	_, err := s.Sample(context.Background(), h)
	assert.ErrorIs(t, err, ErrNoSample)
	assert.Empty(t, h.ID)
}

func TestResolveBackend(t *testing.T) {
	local := &fakeRunner{paths: map[string]string{
		"cactus_caf": "/opt/cactus/bin/cactus_caf",
		"ktserver":   "/usr/bin/ktserver",
		"docker":     "/usr/bin/docker",
	}}
	dockerOnly := &fakeRunner{paths: map[string]string{"docker": "/usr/bin/docker"}}
	nothing := &fakeRunner{}

	tests := []struct {
		name    string
		runner  *fakeRunner
		mode    models.Backend
		want    models.Backend
		wantErr bool
	}{
		{"auto prefers local", local, "", models.BackendLocal, false},
		{"auto falls back to docker", dockerOnly, "", models.BackendDocker, false},
		{"auto with nothing", nothing, "", "", true},
		{"explicit docker", dockerOnly, models.BackendDocker, models.BackendDocker, false},
		{"explicit local missing", dockerOnly, models.BackendLocal, models.BackendLocal, true},
		{"singularity missing", local, models.BackendSingularity, models.BackendSingularity, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveBackend(tt.runner, tt.mode)
			if tt.wantErr {
				var setupErr *SetupError
				require.True(t, errors.As(err, &setupErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPullImage(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}

	require.NoError(t, PullImage(ctx, runner, models.BackendLocal, "org/cactus:v1", false))
	require.NoError(t, PullImage(ctx, runner, models.BackendDocker, "org/cactus:v1", true))
	assert.Empty(t, runner.calls)

	require.NoError(t, PullImage(ctx, runner, models.BackendDocker, "org/cactus:v1", false))
	assert.Equal(t, []string{"docker pull org/cactus:v1"}, runner.calls)

	runner = &fakeRunner{fail: map[string]bool{"docker pull org/cactus:bad": true}}
	err := PullImage(ctx, runner, models.BackendDocker, "org/cactus:bad", false)
	var setupErr *SetupError
	require.True(t, errors.As(err, &setupErr))
	assert.Contains(t, err.Error(), "denied")
}
