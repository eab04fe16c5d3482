package sandbox

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// Script is the body of a scripted command. It writes its output to out and
// returns the exit code. ctx is cancelled when the process is killed.
type Script func(ctx context.Context, args []string, out io.Writer) int

// Memory is an in-process sandbox. Files live in a map; commands are
// Scripts registered by name. It is both a Booter and a Sandbox.
type Memory struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	scripts  map[string]Script
	fallback Script
	spawned  []string
	boots    int
	bootErr  error
	closed   bool
	ready    *readyNotifier
}

// NewMemory creates an empty in-memory sandbox. Unknown commands exit 127.
func NewMemory() *Memory {
	return &Memory{
		files:   make(map[string][]byte),
		dirs:    map[string]bool{"/": true},
		scripts: make(map[string]Script),
		ready:   newReadyNotifier(),
		fallback: func(_ context.Context, args []string, out io.Writer) int {
			_, _ = fmt.Fprintf(out, "%s: command not found\n", args[0])
			return 127
		},
	}
}

// NewDryRun creates an in-memory sandbox whose commands only echo what
// they would run and succeed.
func NewDryRun() *Memory {
	m := NewMemory()
	m.fallback = func(_ context.Context, args []string, out io.Writer) int {
		_, _ = fmt.Fprintf(out, "[dry-run] %s\n", strings.Join(args, " "))
		return 0
	}
	return m
}

// Handle registers a script for a command name.
func (m *Memory) Handle(name string, s Script) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[name] = s
}

// FailBoot makes every later Boot call return err.
func (m *Memory) FailBoot(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootErr = err
}

// Boot implements Booter.
func (m *Memory) Boot(ctx context.Context) (Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boots++
	if m.bootErr != nil {
		return nil, m.bootErr
	}
	return m, nil
}

// Boots returns how many times Boot was called.
func (m *Memory) Boots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boots
}

// Spawned returns the command lines spawned so far, in order.
func (m *Memory) Spawned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spawned...)
}

// Files returns a copy of every file, keyed by cleaned absolute path.
func (m *Memory) Files() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.files))
	for k, v := range m.files {
		out[k] = string(v)
	}
	return out
}

// EmitServerReady announces a server as if a process had printed its URL.
func (m *Memory) EmitServerReady(port int, url string) {
	m.ready.notify(ServerReadyEvent{Port: port, URL: url})
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return ErrClosed
	}
	return nil
}

// WriteFile implements Sandbox.
func (m *Memory) WriteFile(ctx context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	p = clean(p)
	if m.dirs[p] {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrInvalid}
	}
	if !m.dirs[path.Dir(p)] {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrNotExist}
	}
	m.files[p] = append([]byte(nil), data...)
	return nil
}

// ReadFile implements Sandbox.
func (m *Memory) ReadFile(ctx context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	data, ok := m.files[clean(p)]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

// Mkdir implements Sandbox.
func (m *Memory) Mkdir(ctx context.Context, p string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	p = clean(p)
	if _, isFile := m.files[p]; isFile {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if !recursive {
		if m.dirs[p] {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
		}
		if !m.dirs[path.Dir(p)] {
			return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrNotExist}
		}
		m.dirs[p] = true
		return nil
	}
	for d := p; !m.dirs[d]; d = path.Dir(d) {
		if _, isFile := m.files[d]; isFile {
			return &fs.PathError{Op: "mkdir", Path: d, Err: fs.ErrExist}
		}
		m.dirs[d] = true
	}
	return nil
}

// ReadDir implements Sandbox.
func (m *Memory) ReadDir(ctx context.Context, p string) ([]DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	p = clean(p)
	if !m.dirs[p] {
		return nil, &fs.PathError{Op: "readdir", Path: p, Err: fs.ErrNotExist}
	}

	var out []DirEntry
	for d := range m.dirs {
		if d != p && path.Dir(d) == p {
			out = append(out, DirEntry{Name: path.Base(d), IsDir: true})
		}
	}
	for f := range m.files {
		if path.Dir(f) == p {
			out = append(out, DirEntry{Name: path.Base(f)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove implements Sandbox.
func (m *Memory) Remove(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	p = clean(p)
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if !m.dirs[p] || p == "/" {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
	}
	for f := range m.files {
		if strings.HasPrefix(f, p+"/") {
			return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrExist}
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, p+"/") {
			return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrExist}
		}
	}
	delete(m.dirs, p)
	return nil
}

// Spawn implements Sandbox. The script runs on its own goroutine.
func (m *Memory) Spawn(ctx context.Context, name string, args []string, _ map[string]string) (Process, error) {
	m.mu.Lock()
	if err := m.check(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	script, ok := m.scripts[name]
	if !ok {
		script = m.fallback
	}
	argv := append([]string{name}, args...)
	m.spawned = append(m.spawned, strings.Join(argv, " "))
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	scanner := &readyScanner{w: pw, notify: m.ready.notify}
	proc := &memoryProcess{out: pr, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer cancel()
		if ok {
			proc.code = script(ctx, args, scanner)
		} else {
			proc.code = script(ctx, argv, scanner)
		}
		scanner.flush()
		if ctx.Err() != nil {
			proc.code = -1
		}
		_ = pw.Close()
		close(proc.done)
	}()

	return proc, nil
}

// ServerReady implements Sandbox.
func (m *Memory) ServerReady() <-chan ServerReadyEvent {
	return m.ready.ch
}

// Close implements Sandbox.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.ready.close()
	return nil
}

type memoryProcess struct {
	out    *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	code   int
}

func (p *memoryProcess) Output() io.Reader { return p.out }

func (p *memoryProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

func (p *memoryProcess) Kill() error {
	p.cancel()
	return nil
}
