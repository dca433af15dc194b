package models

import "fmt"

// Backend selects how a Command becomes an OS-level invocation.
type Backend string

const (
	// BackendLocal runs the tokens directly as a host process.
	BackendLocal Backend = "local"
	// BackendDocker runs the tokens inside a docker container.
	BackendDocker Backend = "docker"
	// BackendSingularity runs the tokens inside a singularity sandbox.
	BackendSingularity Backend = "singularity"
)

// Valid returns true if the backend is a known value.
func (b Backend) Valid() bool {
	switch b {
	case BackendLocal, BackendDocker, BackendSingularity:
		return true
	default:
		return false
	}
}

// IsContainer returns true for backends that mount a work directory into a
// container and rewrite paths.
func (b Backend) IsContainer() bool {
	return b == BackendDocker || b == BackendSingularity
}

// ParseBackend converts a configuration string into a Backend.
// An empty string yields "" with no error, meaning "auto-detect".
func ParseBackend(s string) (Backend, error) {
	if s == "" {
		return "", nil
	}
	b := Backend(s)
	if !b.Valid() {
		return "", fmt.Errorf("unknown binaries mode %q (want local, docker or singularity)", s)
	}
	return b, nil
}
