// Package policy decides when closed actions are handed to the engine.
//
// The parser emits one ActionCloseEvent per completed <boltAction>. A
// policy turns that stream into engine submissions:
//   - StrictPolicy submits every action on arrival, one task per action
//   - BatchedPolicy accumulates file actions and submits them as one
//     concurrent batch at a shell action, an artifact close or Flush
//
// Both preserve stream order across the file/shell boundary: a shell
// action never starts before every earlier file action has completed.
package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/justapithecus/artificer/engine"
	"github.com/justapithecus/artificer/types"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("policy closed")

// Runner is the part of the engine a policy drives. *engine.Engine
// satisfies it.
type Runner interface {
	RunAction(action types.Action, artifactID string) *engine.Handle
	RunBatch(subs []engine.Submission) []*engine.Handle
}

// Policy defines the submission policy interface.
type Policy interface {
	// Submit hands one closed action to the policy. It never waits for
	// the action to run.
	Submit(ctx context.Context, ev types.ActionCloseEvent) error

	// EndArtifact marks the close of an artifact. Everything queued is
	// handed to the engine so that the artifact's actions are registered
	// before observers learn the artifact closed. It does not wait.
	EndArtifact(ctx context.Context, artifactID string) error

	// Flush submits everything still queued and waits until every action
	// submitted so far is terminal or ctx is done. Action failures are
	// reported through Stats and the engine, not as a Flush error.
	Flush(ctx context.Context) error

	// Close releases policy resources. Queued actions that were never
	// submitted are discarded.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability counters.
type Stats struct {
	// Submitted is the number of actions accepted by Submit.
	Submitted int64
	// Files is the number of file actions accepted.
	Files int64
	// Shells is the number of shell actions accepted.
	Shells int64
	// BatchesFlushed is the number of file batches handed to RunBatch.
	BatchesFlushed int64
	// MaxBatchSize is the largest file batch handed to RunBatch.
	MaxBatchSize int64
	// Completed, Failed and Aborted count terminal outcomes observed by
	// Flush.
	Completed int64
	Failed    int64
	Aborted   int64
	// FlushCount is the number of Flush calls.
	FlushCount int64
}

// statsRecorder is an internal helper for thread-safe stats management.
//
// Lock discipline:
//   - outcome tallies from Flush use the locking methods
//   - submission counters use the Locked methods while the policy holds
//     its own mu, keeping queue state and counters consistent
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{}
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) recordOutcome(status types.ActionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch status {
	case types.ActionComplete:
		r.stats.Completed++
	case types.ActionFailed:
		r.stats.Failed++
	case types.ActionAborted:
		r.stats.Aborted++
	}
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// --- Locked methods ---
// Caller must hold the policy's mu. The recorder's own mu is still taken
// so that snapshot never observes a torn write.

func (r *statsRecorder) incSubmittedLocked(t types.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Submitted++
	switch t {
	case types.ActionTypeFile:
		r.stats.Files++
	case types.ActionTypeShell:
		r.stats.Shells++
	}
}

func (r *statsRecorder) recordBatchLocked(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.BatchesFlushed++
	if int64(size) > r.stats.MaxBatchSize {
		r.stats.MaxBatchSize = int64(size)
	}
}

// pending is the set of handles a policy has submitted but not yet seen
// finish.
type pending struct {
	mu      sync.Mutex
	handles []*engine.Handle
}

func (p *pending) add(hs ...*engine.Handle) {
	p.mu.Lock()
	p.handles = append(p.handles, hs...)
	p.mu.Unlock()
}

// wait blocks on every tracked handle in submission order, recording each
// outcome once. Handles not yet terminal when ctx ends stay tracked.
func (p *pending) wait(ctx context.Context, stats *statsRecorder) error {
	p.mu.Lock()
	hs := p.handles
	p.handles = nil
	p.mu.Unlock()

	for i, h := range hs {
		state, err := h.Wait(ctx)
		if err != nil && ctx.Err() != nil {
			p.add(hs[i:]...)
			return ctx.Err()
		}
		stats.recordOutcome(state.Status)
	}
	return nil
}
