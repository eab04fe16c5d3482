// Package sandbox defines the capability surface the engine drives: a
// filesystem, a process-spawn primitive, and a "server became reachable"
// notification.
//
// Two implementations are provided. Local confines a host directory and runs
// commands with os/exec. Memory keeps everything in process and runs
// scripted commands; it backs tests and dry runs.
package sandbox

import (
	"context"
	"errors"
	"io"
)

// ErrClosed is returned by operations on a closed sandbox.
var ErrClosed = errors.New("sandbox closed")

// Booter brings up a sandbox. Boot is called at most once per engine.
type Booter interface {
	Boot(ctx context.Context) (Sandbox, error)
}

// BooterFunc adapts a function to the Booter interface.
type BooterFunc func(ctx context.Context) (Sandbox, error)

// Boot calls f(ctx).
func (f BooterFunc) Boot(ctx context.Context) (Sandbox, error) { return f(ctx) }

// Sandbox is the isolated filesystem and process environment.
// Paths are slash-separated and resolved against the sandbox root; a
// leading slash is allowed and means the root.
type Sandbox interface {
	// WriteFile creates or truncates path. The parent must exist.
	WriteFile(ctx context.Context, path string, data []byte) error
	// ReadFile returns the content of path.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Mkdir creates path, and its parents when recursive is set.
	Mkdir(ctx context.Context, path string, recursive bool) error
	// ReadDir lists the entries of path sorted by name.
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)
	// Remove deletes a file or an empty directory.
	Remove(ctx context.Context, path string) error
	// Spawn starts cmd with args in the sandbox root. env entries are
	// added to the inherited environment. Cancelling ctx kills the process.
	Spawn(ctx context.Context, cmd string, args []string, env map[string]string) (Process, error)
	// ServerReady delivers one event per port the first time a process
	// announces a reachable server. The channel is closed by Close.
	ServerReady() <-chan ServerReadyEvent
	// Close releases the sandbox.
	Close() error
}

// Process is a spawned command.
type Process interface {
	// Output is the combined stdout and stderr stream. It reaches EOF
	// after the process exits.
	Output() io.Reader
	// Wait blocks until exit and returns the exit code. A non-nil error
	// means the exit status could not be determined.
	Wait() (int, error)
	// Kill requests termination. It is best-effort.
	Kill() error
}

// DirEntry is one ReadDir result.
type DirEntry struct {
	Name  string
	IsDir bool
}

// ServerReadyEvent reports a server listening inside the sandbox.
type ServerReadyEvent struct {
	Port int
	URL  string
}
