// Package imagecache keeps unpacked singularity sandboxes on disk, one per
// image reference, shared by every invocation using the same cache directory.
package imagecache

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/digest"

	"github.com/ShayCichocki/cactuscall/internal/invoke"
	"github.com/ShayCichocki/cactuscall/internal/logging"
)

var sha256Digester = digest.Digester(crypto.SHA256)

// Builder unpacks ref into the sandbox directory dest. scratch is a private
// runtime cache directory for this build only.
type Builder interface {
	Build(ctx context.Context, dest, ref, scratch string) error
}

// Cache maps image references to sandbox directories under Dir.
type Cache struct {
	Dir string
	// DefaultImage replaces the bare reference "cactus".
	DefaultImage string
	Builder      Builder
	Logger       *logging.Logger
}

// New creates a cache rooted at dir.
func New(dir, defaultImage string, b Builder, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cache{Dir: dir, DefaultImage: defaultImage, Builder: b, Logger: logger}
}

// Normalize returns the reference the sandbox is built from. Absolute paths
// and URLs are kept; anything else is treated as a docker image.
func Normalize(ref, defaultImage string) string {
	if ref == invoke.DefaultTool && defaultImage != "" {
		ref = defaultImage
	}
	if strings.HasPrefix(ref, "/") || strings.Contains(ref, "://") {
		return ref
	}
	return "docker://" + ref
}

// Key returns the cache key of a normalized reference.
func Key(normalized string) string {
	return sha256Digester.FromString(normalized).Hex()
}

// Path returns the sandbox directory for ref, whether or not it exists.
func (c *Cache) Path(ref string) string {
	return filepath.Join(c.Dir, Key(Normalize(ref, c.DefaultImage))+".sandbox")
}

// Ensure returns the sandbox directory for ref, building it first if needed.
// Concurrent callers may each build a copy; the first rename wins and the
// others discard theirs.
func (c *Cache) Ensure(ctx context.Context, ref string) (string, error) {
	final := c.Path(ref)
	if _, err := os.Stat(final); err == nil {
		return final, nil
	}

	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating image cache: %w", err)
	}
	tmp, err := os.MkdirTemp(c.Dir, "build-")
	if err != nil {
		return "", fmt.Errorf("creating sandbox temp dir: %w", err)
	}
	scratch, err := os.MkdirTemp("", "cactuscall-singularity-")
	if err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("creating singularity cache dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	normalized := Normalize(ref, c.DefaultImage)
	c.Logger.Realtime(fmt.Sprintf("Building sandbox %s from %s", filepath.Base(final), normalized))
	start := time.Now()
	if err := c.Builder.Build(ctx, tmp, normalized, scratch); err != nil {
		os.RemoveAll(tmp)
		return "", &invoke.SetupError{Op: "building sandbox for " + normalized, Err: err}
	}
	c.Logger.Realtime(fmt.Sprintf("Built sandbox for %s in %.4f seconds", normalized, time.Since(start).Seconds()))

	if err := os.Rename(tmp, final); err != nil {
		if _, statErr := os.Stat(final); statErr != nil {
			os.RemoveAll(tmp)
			return "", fmt.Errorf("installing sandbox: %w", errors.Join(err, statErr))
		}
		// Another caller installed it first.
		c.Logger.Log("sandbox %s already installed, discarding %s", final, tmp)
		if err := os.RemoveAll(tmp); err != nil {
			c.Logger.Log("removing redundant sandbox %s: %v", tmp, err)
		}
	}
	return final, nil
}
