package invoke

import (
	"fmt"

	"github.com/ShayCichocki/cactuscall/internal/logging"
)

// ExecutionError reports a command that exited non-zero or was killed by a
// signal. Exactly one of Code and Signal is meaningful.
type ExecutionError struct {
	Command string
	// Code is the positive exit status. It is zero when Signal is set.
	Code int
	// Signal is the name of the terminating signal, e.g. SIGKILL.
	Signal string
	Stdout []byte
	Stderr []byte
}

func (e *ExecutionError) Error() string {
	out := fmt.Sprintf("stdout=%q", logging.Truncate(string(e.Stdout), logging.DefaultMaxLen))
	if e.Stderr != nil {
		out += fmt.Sprintf(", stderr=%q", logging.Truncate(string(e.Stderr), logging.DefaultMaxLen))
	}
	if e.Signal != "" {
		return fmt.Sprintf("command %s signaled %s: %s", e.Command, e.Signal, out)
	}
	return fmt.Sprintf("command %s exited %d: %s", e.Command, e.Code, out)
}

// Signaled reports whether the command was terminated by a signal.
func (e *ExecutionError) Signaled() bool {
	return e.Signal != ""
}

// SetupError reports a missing runtime executable or a failed image
// pull/build. It is fatal for the run and never retried here.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup: %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
