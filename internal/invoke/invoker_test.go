package invoke

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/cactuscall/pkg/models"
)

func localInvoker() *Invoker {
	return New(Options{Backend: models.BackendLocal, PollInterval: 20 * time.Millisecond})
}

func TestExecuteCapturesStdout(t *testing.T) {
	res, err := localInvoker().Execute(context.Background(), Call{
		Command:       models.Single("echo", "hello"),
		CaptureStdout: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.True(t, res.Success())
}

func TestExecuteCheckResult(t *testing.T) {
	inv := localInvoker()
	for _, code := range []int{0, 7} {
		res, err := inv.Execute(context.Background(), Call{
			Command:     models.Single("sh", "-c", "exit "+itoa(code)),
			CheckResult: true,
		})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, code, res.ExitCode)
	}
}

func TestExecuteExitCodeError(t *testing.T) {
	_, err := localInvoker().Execute(context.Background(), Call{
		Command:       models.Single("sh", "-c", "echo out; echo err >&2; exit 7"),
		CaptureStdout: true,
		CaptureStderr: true,
	})
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Equal(t, 7, execErr.Code)
	assert.False(t, execErr.Signaled())
	assert.Equal(t, "out\n", string(execErr.Stdout))
	assert.Equal(t, "err\n", string(execErr.Stderr))
	assert.Contains(t, execErr.Error(), "exited 7")
}

func TestExecuteSignalError(t *testing.T) {
	_, err := localInvoker().Execute(context.Background(), Call{
		Command: models.Single("sh", "-c", "kill -TERM $$"),
	})
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.True(t, execErr.Signaled())
	assert.Equal(t, "SIGTERM", execErr.Signal)
	assert.Contains(t, execErr.Error(), "signaled SIGTERM")
}

func TestExecuteSignalCheckResult(t *testing.T) {
	res, err := localInvoker().Execute(context.Background(), Call{
		Command:     models.Single("sh", "-c", "kill -KILL $$"),
		CheckResult: true,
	})
	require.NoError(t, err)
	assert.Equal(t, -9, res.ExitCode)
}

func TestExecutePipeFailureAbortsChain(t *testing.T) {
	_, err := localInvoker().Execute(context.Background(), Call{
		Command: models.Piped([]string{"false"}, []string{"true"}),
	})
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Equal(t, 1, execErr.Code)
}

func TestExecutePipe(t *testing.T) {
	res, err := localInvoker().Execute(context.Background(), Call{
		Command:       models.Piped([]string{"echo", "a b c"}, []string{"tr", " ", "\n"}, []string{"wc", "-l"}),
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "3", trimSpace(res.Stdout))
}

func TestExecuteSoftTimeout(t *testing.T) {
	start := time.Now()
	res, err := localInvoker().Execute(context.Background(), Call{
		Command:     models.Single("sleep", "30"),
		SoftTimeout: 100 * time.Millisecond,
	})
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecuteContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := localInvoker().Execute(ctx, Call{Command: models.Single("sleep", "30")})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteContextCancelPipe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := localInvoker().Execute(ctx, Call{
		Command:       models.Piped([]string{"sleep", "30"}, []string{"cat"}),
		CaptureStdout: true,
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteContextCancelKillsDescendants(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("needs /proc")
	}
	pidFile := filepath.Join(t.TempDir(), "pid")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := localInvoker().Execute(ctx, Call{
		Command:       models.Single("sleep 30 & echo $! > " + pidFile + "; wait"),
		Shell:         true,
		CaptureStdout: true,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid := trimSpace(data)
	assert.Eventually(t, func() bool { return processGone(pid) }, 2*time.Second, 20*time.Millisecond,
		"background sleep %s survived cancellation", pid)
}

func TestExecuteSoftTimeoutPipe(t *testing.T) {
	start := time.Now()
	res, err := localInvoker().Execute(context.Background(), Call{
		Command:       models.Piped([]string{"sleep", "30"}, []string{"cat"}),
		CaptureStdout: true,
		SoftTimeout:   100 * time.Millisecond,
	})
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteStdinPrecedence(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(in, []byte("from file"), 0644))

	inv := localInvoker()
	res, err := inv.Execute(context.Background(), Call{
		Command:       models.Single("cat"),
		Stdin:         []byte("from payload"),
		InFile:        in,
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "from payload", string(res.Stdout))

	res, err = inv.Execute(context.Background(), Call{
		Command:       models.Single("cat"),
		InFile:        in,
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "from file", string(res.Stdout))

	res, err = inv.Execute(context.Background(), Call{
		Command:       models.Single("cat"),
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Stdout)
}

func TestExecuteOutFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	inv := localInvoker()

	for _, word := range []string{"one", "two"} {
		_, err := inv.Execute(context.Background(), Call{
			Command:   models.Single("echo", word),
			OutFile:   out,
			OutAppend: true,
		})
		require.NoError(t, err)
	}
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))

	_, err = inv.Execute(context.Background(), Call{
		Command: models.Single("echo", "three"),
		OutFile: out,
	})
	require.NoError(t, err)
	data, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "three\n", string(data))
}

func TestExecuteWorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0644))
	res, err := localInvoker().Execute(context.Background(), Call{
		Command:       models.Single("ls"),
		WorkDir:       dir,
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "marker", trimSpace(res.Stdout))
}

func TestExecuteShell(t *testing.T) {
	res, err := localInvoker().Execute(context.Background(), Call{
		Command:       models.Single("echo", "$((2+3))"),
		Shell:         true,
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "5", trimSpace(res.Stdout))
}

func TestExecuteMissingLocalTool(t *testing.T) {
	_, err := localInvoker().Execute(context.Background(), Call{
		Command: models.Single("cactus-no-such-tool-xyz"),
	})
	require.Error(t, err)
	var setupErr *SetupError
	assert.False(t, errors.As(err, &setupErr))
}

func TestExecuteEmptyCommand(t *testing.T) {
	_, err := localInvoker().Execute(context.Background(), Call{})
	assert.Error(t, err)
}

func TestExecuteTimeV(t *testing.T) {
	if _, err := os.Stat("/usr/bin/time"); err != nil {
		t.Skip("/usr/bin/time not available")
	}
	inv := New(Options{Backend: models.BackendLocal, LogMemory: true, PollInterval: 20 * time.Millisecond})
	res, err := inv.Execute(context.Background(), Call{
		Command:       models.Single("echo", "hi"),
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(res.Stdout))
	assert.Positive(t, res.PeakMemory)
}

func TestPrepareLocalTimeV(t *testing.T) {
	inv := New(Options{Backend: models.BackendLocal, LogMemory: true})

	p, err := inv.prepare(context.Background(), Call{Command: models.Single("cactus_caf", "x")})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/time", "-v", "cactus_caf", "x"}, p.argv)
	assert.True(t, p.timeV)
	assert.Equal(t, "cactus_caf x", p.display())

	p, err = inv.prepare(context.Background(), Call{Command: models.Single("ktserver", "-port", "1978")})
	require.NoError(t, err)
	assert.Equal(t, []string{"ktserver", "-port", "1978"}, p.argv)
	assert.False(t, p.timeV)
}

func TestPrepareDocker(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.fa")
	require.NoError(t, os.WriteFile(in, []byte(">a\nACGT\n"), 0644))

	inv := New(Options{Backend: models.BackendDocker, DockerOrg: "quay.io/org", DockerTag: "v1"})
	p, err := inv.prepare(context.Background(), Call{
		Command: models.Single("cactus_caf", in, "--out", filepath.Join(dir, "out.c2h")),
		Port:    1978,
	})
	require.NoError(t, err)
	require.NotNil(t, p.handle)

	want := []string{
		"docker", "run",
		"--interactive",
		"--net=host",
		"--log-driver=none",
		"-u", uidGid(),
		"-v", dir + ":/data",
		"--entrypoint", "/opt/cactus/wrapper.sh",
		"-p", "1978:1978",
		"--name", p.handle.Name,
		"--rm",
		"quay.io/org/cactus:v1",
		"cactus_caf", "in.fa", "--out", "out.c2h",
	}
	assert.Equal(t, want, p.argv)
	assert.Equal(t, dir, p.dir)
	assert.Empty(t, p.handle.ID)
}

func TestPrepareDockerPipe(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.fa")
	require.NoError(t, os.WriteFile(in, nil, 0644))

	inv := New(Options{Backend: models.BackendDocker, DockerOrg: "quay.io/org", DockerTag: "v1"})
	p, err := inv.prepare(context.Background(), Call{
		Tool:          "lastz",
		Command:       models.Piped([]string{"cat", in}, []string{"gzip"}),
		KeepContainer: true,
	})
	require.NoError(t, err)

	assert.Contains(t, p.argv, "/bin/bash")
	assert.NotContains(t, p.argv, "--rm")
	n := len(p.argv)
	assert.Equal(t, "quay.io/org/lastz:v1", p.argv[n-3])
	assert.Equal(t, "-c", p.argv[n-2])
	assert.Equal(t, "set -eo pipefail && cat in.fa | gzip", p.argv[n-1])
}

func TestPrepareSingularitySandbox(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "seq.fa")
	require.NoError(t, os.WriteFile(in, nil, 0644))

	sandboxes := &fakeSandboxes{dir: "/cache/abc.sandbox"}
	inv := New(Options{Backend: models.BackendSingularity, Sandboxes: sandboxes})
	p, err := inv.prepare(context.Background(), Call{Command: models.Single("cactus_bar", in)})
	require.NoError(t, err)

	assert.Equal(t, []string{"cactus"}, sandboxes.refs)
	assert.Equal(t, []string{
		"singularity", "-q", "exec",
		"-u",
		"-B", dir + ":/mnt",
		"--pwd", "/mnt",
		"/cache/abc.sandbox",
		"cactus_bar", "seq.fa",
	}, p.argv)
	assert.Nil(t, p.handle)
}

func TestPrepareSingularityImage(t *testing.T) {
	inv := New(Options{Backend: models.BackendSingularity, SingularityImage: "/images/cactus.img"})
	p, err := inv.prepare(context.Background(), Call{Command: models.Piped([]string{"echo", "x"}, []string{"cat"})})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"singularity", "--silent", "run", "/images/cactus.img",
		"bash", "-c", "set -eo pipefail && echo x | cat",
	}, p.argv)
}

func TestPrepareSingularityErrors(t *testing.T) {
	inv := New(Options{Backend: models.BackendSingularity})
	_, err := inv.prepare(context.Background(), Call{Command: models.Single("x")})
	var setupErr *SetupError
	assert.True(t, errors.As(err, &setupErr))

	buildErr := &SetupError{Op: "singularity build", Err: errors.New("boom")}
	inv = New(Options{Backend: models.BackendSingularity, Sandboxes: &fakeSandboxes{err: buildErr}})
	_, err = inv.prepare(context.Background(), Call{Command: models.Single("x")})
	assert.ErrorIs(t, err, buildErr)
}

func TestSampleMemoryMonotonic(t *testing.T) {
	inv := New(Options{Backend: models.BackendDocker, Sampler: &fakeSampler{values: []int64{100, 200, 200}}})
	h := &models.ContainerHandle{Name: "c"}
	var tracker PeakTracker
	for i := 0; i < 4; i++ {
		inv.sampleMemory(context.Background(), h, &tracker)
	}
	assert.Equal(t, int64(200), tracker.Peak())

	inv = New(Options{Backend: models.BackendDocker, Sampler: &fakeSampler{values: []int64{300, 299}}})
	tracker = PeakTracker{}
	inv.sampleMemory(context.Background(), h, &tracker)
	assert.Panics(t, func() { inv.sampleMemory(context.Background(), h, &tracker) })
}

func TestFeaturesJSON(t *testing.T) {
	assert.Equal(t, "", featuresJSON(nil))
	assert.Equal(t, `{"length":42}`, featuresJSON(map[string]any{"length": 42}))
}

func uidGid() string {
	return itoa(os.Getuid()) + ":" + itoa(os.Getgid())
}
