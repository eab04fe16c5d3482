// Package main provides the artificer CLI entrypoint.
//
// Usage:
//
//	artificer <command> [options]
//
// Exit codes for `run`:
//   - 0: success
//   - 1: one or more actions failed
//   - 2: stream, sandbox or policy error
//   - 3: the stream ended inside an artifact or action
//   - 130: aborted
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/artificer/cli/cmd"
	"github.com/justapithecus/artificer/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "artificer",
		Usage:          "Execute the artifacts streamed by a coding model",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.ParseCommand(),
			cmd.RecordCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	handleExit(err, os.Stderr, os.Exit)
}

func handleExit(err error, stderr io.Writer, exit func(int)) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() is "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		exit(code)
		return
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	exit(1)
}
