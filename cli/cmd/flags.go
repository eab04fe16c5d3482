// Package cmd provides CLI commands for the artificer binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/artificer/cli/config"
)

// Shared flags for commands that render structured output.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// OutputFlags returns the shared flags for rendering commands.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// configVal reads a field from an optional config. A nil config yields the
// zero value.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	var zero T
	if cfg == nil {
		return zero
	}
	return get(cfg)
}

// resolveString returns the flag when set on the command line, then the
// config value when non-empty, then the flag default.
func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

// resolveInt is resolveString for int flags. A zero config value falls back
// to the flag default.
func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

// resolveIntPtr is resolveInt for config values where zero is meaningful.
func resolveIntPtr(c *cli.Context, name string, fromConfig *int) int {
	if c.IsSet(name) || fromConfig == nil {
		return c.Int(name)
	}
	return *fromConfig
}

// resolveBool lets a config true enable a flag that was not given.
func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return c.Bool(name) || fromConfig
}

// resolveDuration is resolveString for duration flags.
func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}
