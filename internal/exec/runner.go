package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	// Env is the environment commands run with. Nil means the current process environment.
	Env []string
}

// NewRunner creates a new ExecRunner using the process environment.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) environ() []string {
	if r.Env != nil {
		return r.Env
	}
	return os.Environ()
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.environ()
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// Output executes a command and returns its stdout.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.environ()
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// LookPath resolves name using the PATH in the runner's environment.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return lookpath.Look(envvar.SliceToMap(r.environ()), name)
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
