package models

import "time"

// ContainerHandle identifies a running container. ID is resolved lazily from
// Name the first time memory usage is queried.
type ContainerHandle struct {
	Name string
	ID   string
}

// ProcessResult is produced once per completed invocation. A soft-timeout
// early return produces no ProcessResult at all.
type ProcessResult struct {
	// ExitCode is the process exit status. Negative values are the number of
	// the signal that terminated the process.
	ExitCode int
	// Stdout holds captured standard output, if capture was requested.
	Stdout []byte
	// Stderr holds captured standard error, if capture was requested.
	Stderr []byte
	// PeakMemory is the highest memory usage observed in bytes, or 0 if none
	// was sampled.
	PeakMemory int64
	// Duration is the wall-clock runtime.
	Duration time.Duration
}

// Success returns true if the process exited zero.
func (r *ProcessResult) Success() bool {
	return r != nil && r.ExitCode == 0
}
