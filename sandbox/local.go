package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/justapithecus/artificer/log"
)

// killWaitDelay bounds how long Wait keeps reading output after the process
// was killed, for grandchildren that inherited the pipe.
const killWaitDelay = 2 * time.Second

// LocalConfig configures a Local sandbox.
type LocalConfig struct {
	// Root is the host directory the sandbox is confined to. It is created
	// on boot if missing.
	Root string
	// Env is added to the inherited environment of every spawned process.
	Env map[string]string
	// Logger is optional.
	Logger *log.Logger
}

// LocalBooter boots Local sandboxes.
type LocalBooter struct {
	config LocalConfig
}

// NewLocalBooter creates a booter for a host directory sandbox.
func NewLocalBooter(config LocalConfig) *LocalBooter {
	return &LocalBooter{config: config}
}

// Boot creates the root directory and returns the sandbox.
func (b *LocalBooter) Boot(ctx context.Context) (Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.config.Root == "" {
		return nil, errors.New("sandbox root is required")
	}
	root, err := filepath.Abs(b.config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}

	env := os.Environ()
	for k, v := range b.config.Env {
		env = append(env, k+"="+v)
	}

	b.config.Logger.Debug("local sandbox booted", map[string]any{"root": root})

	return &Local{
		root:   root,
		env:    deduplicateEnv(env),
		ready:  newReadyNotifier(),
		logger: b.config.Logger,
		procs:  make(map[*localProcess]struct{}),
	}, nil
}

// Local is a sandbox rooted at a host directory. Every path is resolved
// with securejoin so symlinks and ".." cannot escape the root.
type Local struct {
	root   string
	env    []string
	ready  *readyNotifier
	logger *log.Logger

	mu     sync.Mutex
	closed bool
	procs  map[*localProcess]struct{}
}

// Root returns the absolute host path of the sandbox root.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(p string) (string, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	resolved, err := securejoin.SecureJoin(l.root, filepath.FromSlash(p))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", p, err)
	}
	return resolved, nil
}

// WriteFile implements Sandbox.
func (l *Local) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := l.resolve(p)
	if err != nil {
		return err
	}
	return os.WriteFile(resolved, data, 0o644)
}

// ReadFile implements Sandbox.
func (l *Local) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

// Mkdir implements Sandbox.
func (l *Local) Mkdir(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := l.resolve(p)
	if err != nil {
		return err
	}
	if recursive {
		return os.MkdirAll(resolved, 0o755)
	}
	return os.Mkdir(resolved, 0o755)
}

// ReadDir implements Sandbox.
func (l *Local) ReadDir(ctx context.Context, p string) ([]DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove implements Sandbox.
func (l *Local) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := l.resolve(p)
	if err != nil {
		return err
	}
	if resolved == l.root {
		return errors.New("refusing to remove sandbox root")
	}
	return os.Remove(resolved)
}

// Spawn implements Sandbox. The process runs in its own process group so
// Kill reaches the commands it forks.
func (l *Local) Spawn(ctx context.Context, name string, args []string, env map[string]string) (Process, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.mu.Unlock()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.root
	cmd.Env = l.env
	if len(env) > 0 {
		extra := make([]string, 0, len(env))
		for k, v := range env {
			extra = append(extra, k+"="+v)
		}
		cmd.Env = deduplicateEnv(append(append([]string{}, l.env...), extra...))
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = killWaitDelay

	pr, pw := io.Pipe()
	scanner := &readyScanner{w: pw, notify: l.ready.notify}
	cmd.Stdout = scanner
	cmd.Stderr = scanner

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	proc := &localProcess{cmd: cmd, out: pr, done: make(chan struct{})}
	l.track(proc, true)

	go func() {
		defer l.track(proc, false)
		err := cmd.Wait()
		scanner.flush()
		proc.code, proc.err = exitCode(err)
		_ = pw.Close()
		close(proc.done)
	}()

	l.logger.Debug("process spawned", map[string]any{
		"command": name,
		"args":    strings.Join(args, " "),
		"pid":     cmd.Process.Pid,
	})

	return proc, nil
}

func (l *Local) track(p *localProcess, add bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if add {
		l.procs[p] = struct{}{}
	} else {
		delete(l.procs, p)
	}
}

// ServerReady implements Sandbox.
func (l *Local) ServerReady() <-chan ServerReadyEvent {
	return l.ready.ch
}

// Close kills every process still running and closes the ready channel.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	procs := make([]*localProcess, 0, len(l.procs))
	for p := range l.procs {
		procs = append(procs, p)
	}
	l.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
		<-p.done
	}
	l.ready.close()
	return nil
}

type localProcess struct {
	cmd  *exec.Cmd
	out  *io.PipeReader
	done chan struct{}
	code int
	err  error
}

func (p *localProcess) Output() io.Reader { return p.out }

func (p *localProcess) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

func (p *localProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killProcessGroup(p.cmd)
}

// exitCode extracts the exit status from a Wait error.
// A process terminated by a signal reports -1.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus(), nil
		}
		return exitErr.ExitCode(), nil
	}
	// The process exited cleanly but a descendant held the output open.
	if errors.Is(err, exec.ErrWaitDelay) {
		return 0, nil
	}
	return -1, fmt.Errorf("wait failed: %w", err)
}

// deduplicateEnv keeps the last occurrence of each env var key so values
// configured for the sandbox win over inherited ones.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
