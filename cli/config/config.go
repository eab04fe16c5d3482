package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents an artificer.yaml configuration file.
// All values are optional and act as defaults for artificer run flags.
// CLI flags always override config values.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Sandbox  SandboxConfig `yaml:"sandbox"`
	Policy   PolicyConfig  `yaml:"policy"`
	Journal  JournalConfig `yaml:"journal"`
	Adapter  AdapterConfig `yaml:"adapter"`
	Input    InputConfig   `yaml:"input"`
}

// SandboxConfig holds sandbox defaults.
type SandboxConfig struct {
	// Root is the local sandbox directory.
	Root string            `yaml:"root"`
	Env  map[string]string `yaml:"env,omitempty"`
	// Watch reports file tree changes made by shell commands.
	Watch         bool     `yaml:"watch"`
	WatchDebounce Duration `yaml:"watch_debounce,omitempty"`
	// DryRun replaces the local sandbox with an in-memory one whose
	// commands only echo.
	DryRun bool `yaml:"dry_run"`
}

// PolicyConfig holds submission policy defaults.
type PolicyConfig struct {
	Name        string `yaml:"name"`
	MaxBatch    *int   `yaml:"max_batch,omitempty"`
	MaxParallel int    `yaml:"max_parallel"`
}

// JournalConfig holds journal defaults.
type JournalConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds notification adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	// StatePrefix enables the redis state hash.
	StatePrefix string `yaml:"state_prefix,omitempty"`
}

// InputConfig holds stream input defaults.
type InputConfig struct {
	// Format is "text" (raw model output) or "frames" (ipc frames).
	Format    string `yaml:"format"`
	MessageID string `yaml:"message_id"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated values. Empty values mean "use the flag
// default" and are accepted.
func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.Policy.Name, "strict", "batched") {
		errs = append(errs, fmt.Errorf("policy.name: unknown policy %q", c.Policy.Name))
	}
	if c.Policy.MaxBatch != nil && *c.Policy.MaxBatch < 0 {
		errs = append(errs, fmt.Errorf("policy.max_batch: must be >= 0, got %d", *c.Policy.MaxBatch))
	}
	if c.Policy.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("policy.max_parallel: must be >= 0, got %d", c.Policy.MaxParallel))
	}
	if !oneOf(c.Journal.Backend, "fs", "s3") {
		errs = append(errs, fmt.Errorf("journal.backend: unknown backend %q", c.Journal.Backend))
	}
	if !oneOf(c.Adapter.Type, "webhook", "redis") {
		errs = append(errs, fmt.Errorf("adapter.type: unknown adapter %q", c.Adapter.Type))
	}
	if c.Adapter.Type == "webhook" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url: required for webhook adapter"))
	}
	if !oneOf(c.Input.Format, "text", "frames") {
		errs = append(errs, fmt.Errorf("input.format: unknown format %q", c.Input.Format))
	}
	return errors.Join(errs...)
}

// oneOf reports whether v is empty or one of allowed.
func oneOf(v string, allowed ...string) bool {
	if v == "" {
		return true
	}
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
