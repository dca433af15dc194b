// Package exec provides an interface for running short auxiliary commands
// such as docker pull and docker inspect.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// Output executes a command and returns its stdout only. On failure the
	// returned error carries the command's stderr.
	Output(ctx context.Context, name string, args ...string) (output []byte, err error)

	// LookPath resolves name against the runner's PATH.
	LookPath(name string) (string, error)
}
