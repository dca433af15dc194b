package imagecache

import (
	"context"
	"fmt"
	"os"
	"strings"

	cmdexec "github.com/ShayCichocki/cactuscall/internal/exec"
)

// SingularityBuilder builds sandboxes with `singularity build -s`.
type SingularityBuilder struct {
	// Env is the base environment. Nil means the process environment.
	Env []string
}

// Build runs singularity with a private SINGULARITY_CACHEDIR, since
// concurrent pulls sharing one runtime cache corrupt it.
func (b *SingularityBuilder) Build(ctx context.Context, dest, ref, scratch string) error {
	env := b.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(append([]string(nil), env...), "SINGULARITY_CACHEDIR="+scratch)

	r := &cmdexec.ExecRunner{Env: env}
	out, err := r.Run(ctx, "", "singularity", "build", "-s", "-F", dest, ref)
	if err != nil {
		return fmt.Errorf("singularity build %s: %w: %s", ref, err, strings.TrimSpace(string(out)))
	}
	return nil
}
