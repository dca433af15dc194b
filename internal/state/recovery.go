package state

import (
	"fmt"
	"os"
	"syscall"
)

// MarkInterrupted flags active runs whose owning process is gone, for
// example after a crash or a kill -9. It returns the runs it updated.
func (db *DB) MarkInterrupted() ([]Run, error) {
	active := RunActive
	runs, err := db.ListRuns(&active)
	if err != nil {
		return nil, err
	}

	var interrupted []Run
	for _, r := range runs {
		if r.PID == os.Getpid() || isProcessAlive(r.PID) {
			continue
		}
		if err := db.FinishRun(r.ID, RunInterrupted); err != nil {
			return nil, fmt.Errorf("mark run %s interrupted: %w", r.ID, err)
		}
		r.Status = RunInterrupted
		interrupted = append(interrupted, r)
	}
	return interrupted, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
