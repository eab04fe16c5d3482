package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/artificer/sandbox"
	"github.com/justapithecus/artificer/types"
)

// scratchDir holds the self-test file.
const scratchDir = ".artificer"

// outputChunkSize is the read size for streaming process output.
const outputChunkSize = 32 * 1024

// Initialize boots the sandbox and verifies its filesystem with a write,
// read and remove round trip. It is idempotent: concurrent and later
// callers wait for the same boot, and a failure is returned to every
// caller without retrying. ctx only bounds the wait.
func (e *Engine) Initialize(ctx context.Context) error {
	e.bootMu.Lock()
	if !e.bootStarted {
		if e.ctx.Err() != nil {
			e.bootMu.Unlock()
			return ErrClosed
		}
		e.bootStarted = true
		go e.boot()
	}
	e.bootMu.Unlock()

	select {
	case <-e.bootDone:
		return e.bootErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) boot() {
	defer close(e.bootDone)

	sb, err := e.booter.Boot(e.ctx)
	if err != nil {
		e.bootFailed(&InitError{Stage: InitStageBoot, Err: err})
		return
	}
	if err := e.selfTest(e.ctx, sb); err != nil {
		_ = sb.Close()
		e.bootFailed(&InitError{Stage: InitStageSelfTest, Err: err})
		return
	}

	e.sb = sb
	e.collector.IncSandboxBoot(true)
	e.logger.Info("sandbox ready", nil)
	e.observer.SetSandboxReady(true)

	e.forwarders.Add(1)
	go e.forwardServerReady(sb.ServerReady())
}

func (e *Engine) bootFailed(err *InitError) {
	e.bootErr = err
	e.collector.IncSandboxBoot(false)
	e.logger.Error("sandbox initialization failed", map[string]any{
		"stage": string(err.Stage),
		"error": err.Err.Error(),
	})
	e.observer.SetSandboxReady(false)
}

func (e *Engine) selfTest(ctx context.Context, sb sandbox.Sandbox) error {
	name := path.Join(scratchDir, "selftest-"+uuid.NewString())
	probe := []byte("artificer self-test " + name)

	if err := sb.Mkdir(ctx, scratchDir, true); err != nil {
		return fmt.Errorf("failed to create %s: %w", scratchDir, err)
	}
	if err := sb.WriteFile(ctx, name, probe); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	got, err := sb.ReadFile(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if !bytes.Equal(got, probe) {
		return fmt.Errorf("read back %d bytes from %s, wrote %d", len(got), name, len(probe))
	}
	if err := sb.Remove(ctx, name); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

func (e *Engine) forwardServerReady(ch <-chan sandbox.ServerReadyEvent) {
	defer e.forwarders.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.logger.Info("server ready", map[string]any{"port": ev.Port, "url": ev.URL})
			e.observer.SetPreviewURL(ev.URL)
		}
	}
}

// awaitSandbox waits for the boot started by Initialize, starting it if
// needed.
func (e *Engine) awaitSandbox() (sandbox.Sandbox, error) {
	if err := e.Initialize(e.ctx); err != nil {
		if errors.Is(err, ErrClosed) || (errors.Is(err, context.Canceled) && !IsInitError(err)) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return e.sb, nil
}

func (e *Engine) execute(ent *entry) {
	sb, err := e.awaitSandbox()
	if err != nil {
		if errors.Is(err, ErrClosed) {
			e.finish(ent, types.ActionAborted, ErrClosed, nil)
		} else {
			e.finish(ent, types.ActionFailed, err, nil)
		}
		return
	}

	ctx, ok := e.start(ent)
	if !ok {
		return
	}

	switch ent.state.Action.Type {
	case types.ActionTypeFile:
		e.runFile(ctx, sb, ent)
	case types.ActionTypeShell:
		e.runShell(ctx, sb, ent)
	default:
		e.finish(ent, types.ActionFailed, &ExecError{
			ActionID: ent.state.ID,
			Err:      fmt.Errorf("unknown action type %q", ent.state.Action.Type),
		}, nil)
	}
}

func (e *Engine) executeBatch(entries []*entry) {
	var files, shells []*entry
	for _, ent := range entries {
		if ent.state.Action.Type == types.ActionTypeFile {
			files = append(files, ent)
		} else {
			shells = append(shells, ent)
		}
	}

	if len(files) > 0 {
		var g errgroup.Group
		g.SetLimit(e.maxParallel)
		for _, ent := range files {
			g.Go(func() error {
				e.execute(ent)
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, ent := range shells {
		e.execute(ent)
	}
}

func (e *Engine) runFile(ctx context.Context, sb sandbox.Sandbox, ent *entry) {
	action := ent.state.Action
	target := path.Clean("/" + action.FilePath)

	fail := func(err error) {
		e.finish(ent, types.ActionFailed, &ExecError{ActionID: ent.state.ID, Err: err}, nil)
	}

	if dir := path.Dir(target); dir != "/" {
		if err := sb.Mkdir(ctx, dir, true); err != nil {
			fail(fmt.Errorf("failed to create %s: %w", dir, err))
			return
		}
	}
	if err := sb.WriteFile(ctx, target, []byte(action.Content)); err != nil {
		fail(fmt.Errorf("failed to write %s: %w", action.FilePath, err))
		return
	}

	e.logger.Debug("file written", map[string]any{
		"action_id": ent.state.ID,
		"file_path": action.FilePath,
		"bytes":     len(action.Content),
	})
	e.refreshTree(ctx, sb)
	e.finish(ent, types.ActionComplete, nil, nil)
}

// splitCommand turns a command line into an executable and its arguments.
// Lines using shell operators or spanning several lines run through sh -c.
func splitCommand(line string) (string, []string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, errors.New("empty command")
	}
	if strings.ContainsAny(line, "\n") {
		return "sh", []string{"-c", line}, nil
	}

	p := shellwords.NewParser()
	args, err := p.Parse(line)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse command: %w", err)
	}
	if p.Position >= 0 {
		return "sh", []string{"-c", line}, nil
	}
	if len(args) == 0 {
		return "", nil, errors.New("empty command")
	}
	return args[0], args[1:], nil
}

func (e *Engine) runShell(ctx context.Context, sb sandbox.Sandbox, ent *entry) {
	id := ent.state.ID
	fail := func(err error, exitCode *int) {
		e.finish(ent, types.ActionFailed, err, exitCode)
	}

	name, args, err := splitCommand(ent.state.Action.Content)
	if err != nil {
		fail(&ExecError{ActionID: id, Err: err}, nil)
		return
	}

	proc, err := sb.Spawn(ctx, name, args, e.env)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail(&ExecError{ActionID: id, Err: err}, nil)
		return
	}
	e.collector.IncProcessesSpawned()

	stop := context.AfterFunc(ctx, func() { _ = proc.Kill() })
	defer stop()

	e.streamOutput(proc.Output())

	code, err := proc.Wait()
	if err != nil {
		fail(&ExecError{ActionID: id, ExitCode: -1, Err: err}, nil)
		return
	}
	if ctx.Err() != nil {
		// Aborted while running; finish already recorded it.
		return
	}
	if code != 0 {
		fail(&ExecError{ActionID: id, ExitCode: code, Err: ErrNonZeroExit}, &code)
		return
	}
	e.refreshTree(ctx, sb)
	e.finish(ent, types.ActionComplete, nil, &code)
}

// streamOutput forwards process output to the observer until EOF. A rune
// split across reads is carried to the next chunk.
func (e *Engine) streamOutput(r io.Reader) {
	buf := make([]byte, outputChunkSize)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := incompleteRuneStart(data)
			if cut > 0 {
				e.observer.AppendTerminalOutput(string(data[:cut]))
			}
			carry = append(carry[:0:0], data[cut:]...)
		}
		if err != nil {
			if len(carry) > 0 {
				e.observer.AppendTerminalOutput(string(carry))
			}
			return
		}
	}
}

// incompleteRuneStart returns the index where a trailing partial UTF-8
// sequence starts, or len(b) when b ends on a rune boundary.
func incompleteRuneStart(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
