package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/artificer/types"
)

// StrictPolicy submits each closed action immediately as its own engine
// task. Actions run strictly one at a time in stream order.
type StrictPolicy struct {
	runner Runner

	mu      sync.Mutex
	closed  bool
	pending pending
	stats   *statsRecorder
}

// NewStrictPolicy creates a strict policy submitting to runner.
func NewStrictPolicy(runner Runner) *StrictPolicy {
	return &StrictPolicy{
		runner: runner,
		stats:  newStatsRecorder(),
	}
}

// Submit hands the action to the engine right away.
func (p *StrictPolicy) Submit(_ context.Context, ev types.ActionCloseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.stats.incSubmittedLocked(ev.Action.Type)
	p.pending.add(p.runner.RunAction(ev.Action, ev.ArtifactID))
	return nil
}

// EndArtifact is a no-op: nothing is ever held back.
func (p *StrictPolicy) EndArtifact(context.Context, string) error {
	return nil
}

// Flush waits for every submitted action. Nothing is queued in the policy
// itself.
func (p *StrictPolicy) Flush(ctx context.Context) error {
	p.stats.incFlush()
	return p.pending.wait(ctx, p.stats)
}

// Close rejects further submissions. Submitted actions keep running in
// the engine.
func (p *StrictPolicy) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
