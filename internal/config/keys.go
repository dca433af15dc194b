package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// field binds a dotted configuration key to a Config field.
type field struct {
	get func(c *Config) string
	set func(c *Config, value string) error
}

func stringField(p func(c *Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func boolField(p func(c *Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", v, err)
			}
			*p(c) = b
			return nil
		},
	}
}

func durationField(p func(c *Config) *time.Duration) field {
	return field{
		get: func(c *Config) string { return p(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", v, err)
			}
			*p(c) = d
			return nil
		},
	}
}

func intField(p func(c *Config) *int64) field {
	return field{
		get: func(c *Config) string { return strconv.FormatInt(*p(c), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", v, err)
			}
			*p(c) = n
			return nil
		},
	}
}

func smallIntField(p func(c *Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", v, err)
			}
			*p(c) = n
			return nil
		},
	}
}

var fields = map[string]field{
	"binaries.mode":            stringField(func(c *Config) *string { return &c.Binaries.Mode }),
	"binaries.latest":          boolField(func(c *Config) *bool { return &c.Binaries.Latest }),
	"binaries.use_local_image": boolField(func(c *Config) *bool { return &c.Binaries.UseLocalImage }),

	"docker.org":        stringField(func(c *Config) *string { return &c.Docker.Org }),
	"docker.image":      stringField(func(c *Config) *string { return &c.Docker.Image }),
	"docker.tag":        stringField(func(c *Config) *string { return &c.Docker.Tag }),
	"docker.entrypoint": stringField(func(c *Config) *string { return &c.Docker.Entrypoint }),

	"singularity.cache_dir": stringField(func(c *Config) *string { return &c.Singularity.CacheDir }),
	"singularity.image":     stringField(func(c *Config) *string { return &c.Singularity.Image }),

	"execution.soft_timeout":  durationField(func(c *Config) *time.Duration { return &c.Execution.SoftTimeout }),
	"execution.poll_interval": durationField(func(c *Config) *time.Duration { return &c.Execution.PollInterval }),
	"execution.log_memory":    boolField(func(c *Config) *bool { return &c.Execution.LogMemory }),
	"execution.log_file":      stringField(func(c *Config) *string { return &c.Execution.LogFile }),
	"execution.state_dir":     stringField(func(c *Config) *string { return &c.Execution.StateDir }),

	"scheduling.max_children_per_job": smallIntField(func(c *Config) *int { return &c.Scheduling.MaxChildrenPerJob }),
	"scheduling.rounding":             intField(func(c *Config) *int64 { return &c.Scheduling.Rounding }),
	"scheduling.disk_surcharge":       intField(func(c *Config) *int64 { return &c.Scheduling.DiskSurcharge }),
	"scheduling.parallelism":          smallIntField(func(c *Config) *int { return &c.Scheduling.Parallelism }),
}

// Keys returns every dotted configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of a configuration key as a string.
func Get(cfg *Config, key string) (string, error) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return f.get(cfg), nil
}

// Set parses value and stores it under key. The resulting configuration is
// validated; on failure cfg is left unchanged.
func Set(cfg *Config, key, value string) error {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	updated := *cfg
	if err := f.set(&updated, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	*cfg = updated
	return nil
}
