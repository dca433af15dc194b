package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/grailbio/base/traverse"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cactuscall/internal/invoke"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

var pullCmd = &cobra.Command{
	Use:   "pull [tool...]",
	Short: "Fetch the images a backend needs",
	Long: `Pull docker images, or build singularity sandboxes into the cache, for
the given tools. With no tools, fetches the default cactus image.`,
	RunE: runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	tools := args
	if len(tools) == 0 {
		tools = []string{invoke.DefaultTool}
	}

	var fetch func(ctx context.Context, tool string) (string, error)
	switch env.backend {
	case models.BackendDocker:
		if env.cfg.Binaries.UseLocalImage {
			fmt.Println("docker.use_local_image is set; using images already present")
			return nil
		}
		fetch = func(ctx context.Context, tool string) (string, error) {
			ref := env.cfg.ImageRef(tool)
			return ref, invoke.PullImage(ctx, env.runner, env.backend, ref, false)
		}
	case models.BackendSingularity:
		if env.cfg.Singularity.Image != "" {
			fmt.Printf("Using prebuilt image %s\n", env.cfg.Singularity.Image)
			return nil
		}
		cache := env.sandboxCache()
		fetch = func(ctx context.Context, tool string) (string, error) {
			return cache.Ensure(ctx, tool)
		}
	default:
		fmt.Println("Local backend runs binaries from PATH; nothing to pull")
		return nil
	}

	ctx := cmd.Context()
	refs := make([]string, len(tools))
	errs := make([]error, len(tools))
	_ = traverse.Each(len(tools), func(i int) error {
		refs[i], errs[i] = fetch(ctx, tools[i])
		return nil
	})

	var failed int
	for i, tool := range tools {
		if errs[i] != nil {
			failed++
			fmt.Printf("%s %s: %v\n", color.RedString("✗"), tool, errs[i])
			continue
		}
		fmt.Printf("%s %s -> %s\n", color.GreenString("✓"), tool, refs[i])
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pulls failed", failed, len(tools))
	}
	return nil
}
