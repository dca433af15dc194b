package invoke

import (
	"context"
	"fmt"
	"strings"

	cmdexec "github.com/ShayCichocki/cactuscall/internal/exec"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// localTools must be on PATH for the local backend.
var localTools = []string{"cactus_caf", "ktserver"}

// ResolveBackend verifies the runtime for mode. An empty mode selects local
// when the native binaries are available and docker otherwise.
func ResolveBackend(r cmdexec.CommandRunner, mode models.Backend) (models.Backend, error) {
	switch mode {
	case "":
		if verifyLocal(r) == nil {
			return models.BackendLocal, nil
		}
		if err := verifyRuntime(r, "docker"); err != nil {
			return "", err
		}
		return models.BackendDocker, nil
	case models.BackendLocal:
		return mode, verifyLocal(r)
	case models.BackendDocker:
		return mode, verifyRuntime(r, "docker")
	case models.BackendSingularity:
		return mode, verifyRuntime(r, "singularity")
	default:
		return "", fmt.Errorf("unknown backend %q", mode)
	}
}

func verifyLocal(r cmdexec.CommandRunner) error {
	for _, tool := range localTools {
		if _, err := r.LookPath(tool); err != nil {
			return &SetupError{
				Op:  "locating " + tool,
				Err: fmt.Errorf("%s is not on PATH; add the native binaries to PATH or use the docker backend: %w", tool, err),
			}
		}
	}
	return nil
}

func verifyRuntime(r cmdexec.CommandRunner, name string) error {
	if _, err := r.LookPath(name); err != nil {
		return &SetupError{
			Op:  "locating " + name,
			Err: fmt.Errorf("the %s executable was not found; install it or use the local backend: %w", name, err),
		}
	}
	return nil
}

// PullImage makes sure ref is present for the docker backend. It does
// nothing for other backends or when a local image is forced.
func PullImage(ctx context.Context, r cmdexec.CommandRunner, backend models.Backend, ref string, useLocal bool) error {
	if backend != models.BackendDocker || useLocal {
		return nil
	}
	out, err := r.Run(ctx, "", "docker", "pull", ref)
	if err != nil {
		return &SetupError{
			Op:  "docker pull " + ref,
			Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))),
		}
	}
	return nil
}
