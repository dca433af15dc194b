package main

import (
	"fmt"

	"github.com/ShayCichocki/cactuscall/internal/config"
	cmdexec "github.com/ShayCichocki/cactuscall/internal/exec"
	"github.com/ShayCichocki/cactuscall/internal/imagecache"
	"github.com/ShayCichocki/cactuscall/internal/invoke"
	"github.com/ShayCichocki/cactuscall/internal/logging"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// environment is the per-process execution setup. The backend is resolved
// once here and passed explicitly to everything that runs tools.
type environment struct {
	cfg     *config.Config
	log     *logging.Logger
	runner  *cmdexec.ExecRunner
	backend models.Backend
}

func newEnvironment() (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Execution.LogFile)
	if err != nil {
		return nil, err
	}

	runner := cmdexec.NewRunner()
	backend, err := invoke.ResolveBackend(runner, cfg.Backend())
	if err != nil {
		logger.Close()
		return nil, err
	}
	logger.Log("using %s backend", backend)

	return &environment{cfg: cfg, log: logger, runner: runner, backend: backend}, nil
}

func (e *environment) sandboxCache() *imagecache.Cache {
	return imagecache.New(e.cfg.SandboxCacheDir(), e.cfg.ImageRef(""), &imagecache.SingularityBuilder{}, e.log)
}

func (e *environment) invoker() *invoke.Invoker {
	opts := invoke.OptionsFromConfig(e.cfg, e.backend)
	opts.Runner = e.runner
	opts.Logger = e.log
	if e.backend == models.BackendSingularity {
		opts.Sandboxes = e.sandboxCache()
	}
	return invoke.New(opts)
}

func (e *environment) Close() error {
	return e.log.Close()
}
