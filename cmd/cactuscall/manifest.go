package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/cactuscall/internal/invoke"
	"github.com/ShayCichocki/cactuscall/pkg/models"
)

// Manifest lists the work units of a fanout run.
type Manifest struct {
	// MaxChildrenPerJob overrides the configured fanout bound when set.
	MaxChildrenPerJob int `yaml:"max_children_per_job"`
	// Tool is the default image of every unit.
	Tool  string `yaml:"tool"`
	Units []Unit `yaml:"units"`
}

// Unit is one work unit: a command plus its resource requirements.
type Unit struct {
	Name    string     `yaml:"name"`
	Tool    string     `yaml:"tool"`
	Command []string   `yaml:"command"`
	Pipe    [][]string `yaml:"pipe"`
	Shell   bool       `yaml:"shell"`
	WorkDir string     `yaml:"workdir"`

	Stdin   string `yaml:"stdin"`
	InFile  string `yaml:"infile"`
	OutFile string `yaml:"outfile"`
	Append  bool   `yaml:"append"`
	// Capture stores stdout in the run's blob store.
	Capture bool `yaml:"capture"`

	SoftTimeout time.Duration `yaml:"soft_timeout"`
	CheckResult bool          `yaml:"check_result"`

	// Memory and Disk accept human sizes such as "2GiB" or "500MB".
	Memory      string  `yaml:"memory"`
	Cores       float64 `yaml:"cores"`
	Disk        string  `yaml:"disk"`
	Preemptable bool    `yaml:"preemptable"`

	Features map[string]any `yaml:"features"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks every unit and names unnamed ones by position.
func (m *Manifest) Validate() error {
	if len(m.Units) == 0 {
		return errors.New("no units")
	}
	if m.MaxChildrenPerJob != 0 && m.MaxChildrenPerJob < 2 {
		return fmt.Errorf("max_children_per_job must be at least 2, got %d", m.MaxChildrenPerJob)
	}
	seen := make(map[string]bool, len(m.Units))
	for i := range m.Units {
		u := &m.Units[i]
		if u.Name == "" {
			u.Name = fmt.Sprintf("unit-%d", i+1)
		}
		if seen[u.Name] {
			return fmt.Errorf("duplicate unit name %q", u.Name)
		}
		seen[u.Name] = true
		if _, err := u.command(); err != nil {
			return fmt.Errorf("unit %s: %w", u.Name, err)
		}
		if _, err := u.requirements(); err != nil {
			return fmt.Errorf("unit %s: %w", u.Name, err)
		}
	}
	return nil
}

func (u *Unit) command() (models.Command, error) {
	switch {
	case len(u.Command) > 0 && len(u.Pipe) > 0:
		return models.Command{}, errors.New("command and pipe are mutually exclusive")
	case len(u.Command) > 0:
		return models.Single(u.Command...), nil
	case len(u.Pipe) > 0:
		for i, stage := range u.Pipe {
			if len(stage) == 0 {
				return models.Command{}, fmt.Errorf("pipe stage %d is empty", i+1)
			}
		}
		return models.Piped(u.Pipe...), nil
	default:
		return models.Command{}, errors.New("no command")
	}
}

func (u *Unit) requirements() (models.Requirements, error) {
	req := models.Requirements{Cores: u.Cores, Preemptable: u.Preemptable}
	if u.Memory != "" {
		n, err := humanize.ParseBytes(u.Memory)
		if err != nil {
			return req, fmt.Errorf("memory: %w", err)
		}
		req.Memory = int64(n)
	}
	if u.Disk != "" {
		n, err := humanize.ParseBytes(u.Disk)
		if err != nil {
			return req, fmt.Errorf("disk: %w", err)
		}
		req.Disk = int64(n)
	}
	return req, nil
}

// call builds the invocation of the unit. defaultTool and softTimeout apply
// when the unit sets neither.
func (u *Unit) call(defaultTool string, softTimeout time.Duration) invoke.Call {
	cmd, _ := u.command()
	tool := u.Tool
	if tool == "" {
		tool = defaultTool
	}
	c := invoke.Call{
		Tool:          tool,
		Command:       cmd,
		WorkDir:       u.WorkDir,
		InFile:        u.InFile,
		OutFile:       u.OutFile,
		OutAppend:     u.Append,
		CaptureStdout: u.Capture,
		SoftTimeout:   u.SoftTimeout,
		CheckResult:   u.CheckResult,
		Shell:         u.Shell,
		JobName:       u.Name,
		Features:      u.Features,
	}
	if u.Stdin != "" {
		c.Stdin = []byte(u.Stdin)
	}
	if c.SoftTimeout == 0 {
		c.SoftTimeout = softTimeout
	}
	return c
}
