// Package config handles configuration loading and management for cactuscall.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/cactuscall/internal/resources"
	"github.com/ShayCichocki/cactuscall/internal/version"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// Config holds all configuration for cactuscall.
type Config struct {
	Binaries    BinariesConfig    `mapstructure:"binaries"`
	Docker      DockerConfig      `mapstructure:"docker"`
	Singularity SingularityConfig `mapstructure:"singularity"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Scheduling  SchedulingConfig  `mapstructure:"scheduling"`
}

// BinariesConfig selects how tools are run.
type BinariesConfig struct {
	// Mode is local, docker or singularity. Empty means auto-detect.
	Mode string `mapstructure:"mode"`
	// Latest forces the "latest" image tag instead of the release tag.
	Latest bool `mapstructure:"latest"`
	// UseLocalImage skips pulling the docker image.
	UseLocalImage bool `mapstructure:"use_local_image"`
}

// DockerConfig describes where images come from.
type DockerConfig struct {
	// Org is the registry/organization prefix, e.g. quay.io/comparative-genomics-toolkit.
	Org string `mapstructure:"org"`
	// Image is the default tool image name.
	Image string `mapstructure:"image"`
	// Tag is the image tag used unless Latest is set.
	Tag string `mapstructure:"tag"`
	// Entrypoint is the default container entrypoint.
	Entrypoint string `mapstructure:"entrypoint"`
}

// SingularityConfig holds sandbox settings.
type SingularityConfig struct {
	// CacheDir is the root of the sandbox directory cache.
	CacheDir string `mapstructure:"cache_dir"`
	// Image is a prebuilt image file run directly instead of a cached sandbox.
	Image string `mapstructure:"image"`
}

// ExecutionConfig holds process invocation settings.
type ExecutionConfig struct {
	// SoftTimeout abandons commands running longer than this. Zero disables it.
	SoftTimeout time.Duration `mapstructure:"soft_timeout"`
	// PollInterval is how often a running command is checked.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// LogMemory wraps local commands in /usr/bin/time -v to report peak memory.
	LogMemory bool `mapstructure:"log_memory"`
	// LogFile mirrors the realtime log to a file when set.
	LogFile string `mapstructure:"log_file"`
	// StateDir holds the job store database and control signals.
	StateDir string `mapstructure:"state_dir"`
}

// SchedulingConfig holds fanout and resource rounding settings.
type SchedulingConfig struct {
	// MaxChildrenPerJob bounds the direct children of any job.
	MaxChildrenPerJob int `mapstructure:"max_children_per_job"`
	// Rounding is the memory/disk rounding granularity in bytes.
	Rounding int64 `mapstructure:"rounding"`
	// DiskSurcharge is added to every declared disk requirement.
	DiskSurcharge int64 `mapstructure:"disk_surcharge"`
	// Parallelism bounds concurrently running jobs in the local engine.
	Parallelism int `mapstructure:"parallelism"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CACTUS_BINARIES_MODE, CACTUS_USE_LATEST, ...)
// 2. Project config (.cactuscall.yaml in current directory or parent)
// 3. User config (~/.config/cactuscall/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
// Environment overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Singularity.CacheDir = expandEnv(cfg.Singularity.CacheDir)
	cfg.Singularity.Image = expandEnv(cfg.Singularity.Image)
	cfg.Execution.LogFile = expandEnv(cfg.Execution.LogFile)
	cfg.Execution.StateDir = expandEnv(cfg.Execution.StateDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv maps the pipeline's historical environment variables onto keys.
func bindEnv(v *viper.Viper) {
	v.BindEnv("binaries.mode", "CACTUS_BINARIES_MODE")
	v.BindEnv("binaries.latest", "CACTUS_USE_LATEST")
	v.BindEnv("binaries.use_local_image", "CACTUS_USE_LOCAL_IMAGE")
	v.BindEnv("docker.org", "CACTUS_DOCKER_ORG")
	v.BindEnv("singularity.image", "CACTUS_SINGULARITY_IMG")
	v.BindEnv("singularity.cache_dir", "SINGULARITY_CACHEDIR")
	v.BindEnv("execution.log_memory", "CACTUS_LOG_MEMORY")
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveToPath(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveToPath writes cfg as YAML to path.
func SaveToPath(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	for _, k := range Keys() {
		val, err := Get(cfg, k)
		if err != nil {
			return err
		}
		v.Set(k, val)
	}
	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("binaries.mode", d.Binaries.Mode)
	v.SetDefault("binaries.latest", d.Binaries.Latest)
	v.SetDefault("binaries.use_local_image", d.Binaries.UseLocalImage)

	v.SetDefault("docker.org", d.Docker.Org)
	v.SetDefault("docker.image", d.Docker.Image)
	v.SetDefault("docker.tag", d.Docker.Tag)
	v.SetDefault("docker.entrypoint", d.Docker.Entrypoint)

	v.SetDefault("singularity.cache_dir", d.Singularity.CacheDir)
	v.SetDefault("singularity.image", d.Singularity.Image)

	v.SetDefault("execution.soft_timeout", d.Execution.SoftTimeout.String())
	v.SetDefault("execution.poll_interval", d.Execution.PollInterval.String())
	v.SetDefault("execution.log_memory", d.Execution.LogMemory)
	v.SetDefault("execution.log_file", d.Execution.LogFile)
	v.SetDefault("execution.state_dir", d.Execution.StateDir)

	v.SetDefault("scheduling.max_children_per_job", d.Scheduling.MaxChildrenPerJob)
	v.SetDefault("scheduling.rounding", d.Scheduling.Rounding)
	v.SetDefault("scheduling.disk_surcharge", d.Scheduling.DiskSurcharge)
	v.SetDefault("scheduling.parallelism", d.Scheduling.Parallelism)
}

// getUserConfigDir returns the XDG config directory for cactuscall.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cactuscall")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "cactuscall")
	}
	return filepath.Join(home, ".config", "cactuscall")
}

// findProjectConfig searches for .cactuscall.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".cactuscall.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Docker: DockerConfig{
			Org:        "quay.io/comparative-genomics-toolkit",
			Image:      "cactus",
			Tag:        version.Get(),
			Entrypoint: "/opt/cactus/wrapper.sh",
		},
		Execution: ExecutionConfig{
			PollInterval: 10 * time.Second,
			StateDir:     ".cactuscall",
		},
		Scheduling: SchedulingConfig{
			MaxChildrenPerJob: 20,
			Rounding:          resources.DefaultGranularity,
			DiskSurcharge:     resources.DefaultDiskSurcharge,
			Parallelism:       4,
		},
	}
}

// Validate checks the configuration for values the core cannot work with.
func (c *Config) Validate() error {
	if _, err := models.ParseBackend(c.Binaries.Mode); err != nil {
		return fmt.Errorf("binaries.mode: %w", err)
	}
	if c.Execution.PollInterval <= 0 {
		return fmt.Errorf("execution.poll_interval must be positive, got %s", c.Execution.PollInterval)
	}
	if c.Execution.SoftTimeout < 0 {
		return fmt.Errorf("execution.soft_timeout must not be negative, got %s", c.Execution.SoftTimeout)
	}
	if c.Scheduling.MaxChildrenPerJob < 2 {
		return fmt.Errorf("scheduling.max_children_per_job must be at least 2, got %d", c.Scheduling.MaxChildrenPerJob)
	}
	return nil
}

// Backend returns the configured backend, or "" when it should be detected.
func (c *Config) Backend() models.Backend {
	b, _ := models.ParseBackend(c.Binaries.Mode)
	return b
}

// ImageTag returns the tag images are pulled with.
func (c *Config) ImageTag() string {
	if c.Binaries.Latest {
		return "latest"
	}
	return c.Docker.Tag
}

// ImageRef returns the full reference org/tool:tag. An empty tool means the
// default image.
func (c *Config) ImageRef(tool string) string {
	if tool == "" {
		tool = c.Docker.Image
	}
	return fmt.Sprintf("%s/%s:%s", c.Docker.Org, tool, c.ImageTag())
}

// SandboxCacheDir returns the directory holding cached singularity sandboxes.
func (c *Config) SandboxCacheDir() string {
	root := c.Singularity.CacheDir
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		root = filepath.Join(home, ".singularity")
	}
	return filepath.Join(root, "cactuscall")
}

// RoundingPolicy returns the requirement rounding policy.
func (c *Config) RoundingPolicy() resources.Policy {
	return resources.Policy{
		Granularity:   c.Scheduling.Rounding,
		DiskSurcharge: c.Scheduling.DiskSurcharge,
	}
}
