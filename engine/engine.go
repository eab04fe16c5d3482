// Package engine schedules actions against a sandbox.
//
// Every action submitted to an Engine gets an id and a pending state
// synchronously, then runs on a single-worker task queue: actions execute
// strictly in submission order and never overlap, except for the file
// writes inside one RunBatch task, which run concurrently with each other.
// Execution failures are recorded on the action and never stop the queue.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/metrics"
	"github.com/justapithecus/artificer/observer"
	"github.com/justapithecus/artificer/sandbox"
	"github.com/justapithecus/artificer/types"
)

// DefaultMaxParallel bounds concurrent file writes inside one batch.
const DefaultMaxParallel = 8

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the status observer. Defaults to observer.Nop.
// Callbacks run synchronously and must not abort the engine.
func WithObserver(o observer.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCollector sets the metrics collector. A nil collector is valid.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithIDGenerator replaces NewActionID, typically in tests.
func WithIDGenerator(fn func(types.ActionType) string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithMaxParallel bounds concurrent file writes inside one batch.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithEnv adds environment variables to every spawned shell command.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) { e.env = env }
}

// Submission is one action handed to RunBatch.
type Submission struct {
	Action     types.Action
	ArtifactID string
}

// Engine is the action scheduler. Construct it with New; engines share no
// state and many may coexist.
type Engine struct {
	booter      sandbox.Booter
	observer    observer.Observer
	logger      *log.Logger
	collector   *metrics.Collector
	newID       func(types.ActionType) string
	maxParallel int
	env         map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	queue  *taskQueue

	bootMu      sync.Mutex
	bootStarted bool
	bootDone    chan struct{}
	sb          sandbox.Sandbox
	bootErr     error
	forwarders  sync.WaitGroup

	mu        sync.Mutex
	seq       uint64
	entries   map[string]*entry
	order     []string
	live      map[*entry]struct{}
	artifacts map[string]*artifactTrack
	closed    bool
}

type entry struct {
	seq    uint64
	state  types.ActionState
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	// notifyMu is held from a status change until the observer has seen
	// it, so an entry's transitions reach the observer in order.
	notifyMu sync.Mutex
}

// artifactTrack counts an artifact's actions that are not terminal yet.
type artifactTrack struct {
	active  int
	running bool
}

// New creates an Engine over a sandbox booter. The sandbox is booted by
// the first Initialize call or the first action to run, whichever comes
// first.
func New(booter sandbox.Booter, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		booter:      booter,
		observer:    observer.Nop{},
		logger:      log.NewNop(),
		newID:       NewActionID,
		maxParallel: DefaultMaxParallel,
		ctx:         ctx,
		cancel:      cancel,
		bootDone:    make(chan struct{}),
		entries:     make(map[string]*entry),
		live:        make(map[*entry]struct{}),
		artifacts:   make(map[string]*artifactTrack),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = newTaskQueue()
	return e
}

// RunAction registers action as pending and enqueues its execution. The
// returned handle is valid immediately; the action runs once every action
// submitted before it has finished and the sandbox is ready.
func (e *Engine) RunAction(action types.Action, artifactID string) *Handle {
	ent := e.register(action, artifactID)
	if !e.queue.push(func() { e.execute(ent) }) {
		e.finish(ent, types.ActionAborted, ErrClosed, nil)
	}
	return newHandle(e, ent)
}

// RunBatch registers every submission and enqueues them as one task. Within
// the task, file actions run concurrently (bounded by WithMaxParallel) and
// shell actions then run one at a time in submission order.
func (e *Engine) RunBatch(subs []Submission) []*Handle {
	if len(subs) == 0 {
		return nil
	}
	entries := make([]*entry, len(subs))
	handles := make([]*Handle, len(subs))
	for i, s := range subs {
		entries[i] = e.register(s.Action, s.ArtifactID)
		handles[i] = newHandle(e, entries[i])
	}
	if !e.queue.push(func() { e.executeBatch(entries) }) {
		for _, ent := range entries {
			e.finish(ent, types.ActionAborted, ErrClosed, nil)
		}
	}
	return handles
}

func (e *Engine) register(action types.Action, artifactID string) *entry {
	ent := &entry{
		state: types.ActionState{
			ID:         e.newID(action.Type),
			ArtifactID: artifactID,
			Action:     action,
			Status:     types.ActionPending,
			CreatedAt:  time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	ent.notifyMu.Lock()
	defer ent.notifyMu.Unlock()

	e.mu.Lock()
	e.seq++
	ent.seq = e.seq
	e.entries[ent.state.ID] = ent
	e.order = append(e.order, ent.state.ID)
	e.live[ent] = struct{}{}
	if artifactID != "" {
		track, ok := e.artifacts[artifactID]
		if !ok {
			track = &artifactTrack{}
			e.artifacts[artifactID] = track
		}
		track.active++
	}
	snapshot := ent.state
	e.mu.Unlock()

	e.collector.IncActionRegistered(string(action.Type))
	e.logger.Debug("action registered", map[string]any{
		"action_id":   snapshot.ID,
		"artifact_id": artifactID,
		"type":        string(action.Type),
	})
	e.observer.ActionChanged(snapshot)
	return ent
}

// start moves a pending action to running. It returns the context the
// action must run under, or false if the action is no longer pending.
func (e *Engine) start(ent *entry) (context.Context, bool) {
	ent.notifyMu.Lock()
	defer ent.notifyMu.Unlock()

	e.mu.Lock()
	if ent.state.Status != types.ActionPending {
		e.mu.Unlock()
		return nil, false
	}
	ctx, cancel := context.WithCancel(e.ctx)
	ent.cancel = cancel
	now := time.Now().UTC()
	ent.state.Status = types.ActionRunning
	ent.state.StartedAt = &now
	snapshot := ent.state

	var artifactStarted bool
	if track := e.artifacts[snapshot.ArtifactID]; track != nil && !track.running {
		track.running = true
		artifactStarted = true
	}
	e.mu.Unlock()

	e.observer.ActionChanged(snapshot)
	if artifactStarted {
		e.observer.SetArtifactRunning(snapshot.ArtifactID, true)
	}
	return ctx, true
}

// finish moves an action to a terminal status. The first call wins; later
// calls are no-ops, which lets Abort race with a completing action. Waiters
// are released after the observer has seen the transition.
func (e *Engine) finish(ent *entry, status types.ActionStatus, err error, exitCode *int) {
	ent.notifyMu.Lock()
	defer ent.notifyMu.Unlock()

	e.mu.Lock()
	if ent.state.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	ent.state.Status = status
	ent.state.FinishedAt = &now
	ent.state.ExitCode = exitCode
	ent.err = err
	if status == types.ActionFailed && err != nil {
		ent.state.Error = err.Error()
	}
	if ent.cancel != nil {
		ent.cancel()
	}
	delete(e.live, ent)
	snapshot := ent.state

	var artifactStopped bool
	if track := e.artifacts[snapshot.ArtifactID]; track != nil {
		track.active--
		if track.active == 0 {
			delete(e.artifacts, snapshot.ArtifactID)
			artifactStopped = track.running
		}
	}
	e.mu.Unlock()
	defer close(ent.done)

	switch status {
	case types.ActionComplete:
		e.collector.IncActionCompleted()
	case types.ActionFailed:
		e.collector.IncActionFailed()
	case types.ActionAborted:
		e.collector.IncActionAborted()
	}

	e.observer.ActionChanged(snapshot)
	if status == types.ActionFailed && snapshot.ArtifactID != "" {
		e.observer.SetArtifactError(snapshot.ArtifactID, snapshot.Error)
	}
	if artifactStopped {
		e.observer.SetArtifactRunning(snapshot.ArtifactID, false)
	}
}

// Abort moves every pending or running action to aborted and cancels the
// running ones. Killing a running process is best-effort. Recorded history
// is kept and the engine stays usable.
func (e *Engine) Abort() {
	e.mu.Lock()
	live := make([]*entry, 0, len(e.live))
	for ent := range e.live {
		live = append(live, ent)
	}
	e.mu.Unlock()
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	for _, ent := range live {
		e.finish(ent, types.ActionAborted, ErrAborted, nil)
	}
	if len(live) > 0 {
		e.logger.Info("actions aborted", map[string]any{"count": len(live)})
	}
}

// ClearActionHistory forgets every recorded action state. Actions still in
// flight keep running and can still be aborted; their handles remain valid.
func (e *Engine) ClearActionHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = make(map[string]*entry)
	e.order = nil
}

// ActionStatus returns the recorded state of an action.
func (e *Engine) ActionStatus(id string) (types.ActionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return types.ActionState{}, false
	}
	return ent.state, true
}

// AllActionStatuses returns every recorded state in registration order.
func (e *Engine) AllActionStatuses() []types.ActionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.ActionState, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.entries[id].state)
	}
	return out
}

// Close aborts what is left, stops the worker, and closes the sandbox.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.Abort()
	e.cancel()
	e.queue.close()

	e.bootMu.Lock()
	started := e.bootStarted
	e.bootMu.Unlock()
	if started {
		<-e.bootDone
	}

	var err error
	if e.sb != nil {
		err = e.sb.Close()
	}
	e.forwarders.Wait()
	return err
}

// Handle tracks one submitted action.
type Handle struct {
	id     string
	engine *Engine
	entry  *entry
}

func newHandle(e *Engine, ent *entry) *Handle {
	return &Handle{id: ent.state.ID, engine: e, entry: ent}
}

// ID returns the action id assigned at registration.
func (h *Handle) ID() string {
	return h.id
}

// Done is closed when the action reaches a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.entry.done
}

// Wait blocks until the action is terminal or ctx is done. The error is
// nil for complete, an *ExecError or *InitError for failed, and
// ErrAborted (or ErrClosed) for aborted.
func (h *Handle) Wait(ctx context.Context) (types.ActionState, error) {
	select {
	case <-h.entry.done:
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	return h.entry.state, h.entry.err
}

// State returns the current state of the action, even after
// ClearActionHistory.
func (h *Handle) State() types.ActionState {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	return h.entry.state
}
