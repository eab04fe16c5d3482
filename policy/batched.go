package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/artificer/engine"
	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/types"
)

// BatchedConfig configures a BatchedPolicy.
type BatchedConfig struct {
	// MaxBatch forces a file batch out once it holds this many actions.
	// Zero means unbounded: batches end only at a shell action or Flush.
	MaxBatch int

	// Logger is an optional logger for policy observability.
	// If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultBatchedConfig returns defaults for batched policy.
func DefaultBatchedConfig() BatchedConfig {
	return BatchedConfig{MaxBatch: 64}
}

// ErrInvalidConfig is returned when BatchedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config")

// BatchedPolicy groups consecutive file actions into one engine batch.
//
// File actions accumulate in the file queue. A shell action is a batch
// boundary: the queued files are submitted with RunBatch, then the shell
// with RunAction, and a new batch begins. Because the engine queue is FIFO
// the shell starts only after the whole batch is terminal, and any file
// after the shell starts only after the shell is terminal.
type BatchedPolicy struct {
	runner Runner
	config BatchedConfig
	logger *log.Logger

	mu         sync.Mutex // guards queue state
	fileQueue  []engine.Submission
	shellQueue []engine.Submission
	closed     bool
	pending    pending
	stats      *statsRecorder
}

// NewBatchedPolicy creates a batched policy submitting to runner.
func NewBatchedPolicy(runner Runner, config BatchedConfig) (*BatchedPolicy, error) {
	if config.MaxBatch < 0 {
		return nil, fmt.Errorf("%w: max_batch must be >= 0, got %d", ErrInvalidConfig, config.MaxBatch)
	}
	return &BatchedPolicy{
		runner: runner,
		config: config,
		logger: config.Logger,
		stats:  newStatsRecorder(),
	}, nil
}

// Submit queues the action. A shell action submits the pending file batch
// and then itself; a file action that fills the batch submits it.
func (p *BatchedPolicy) Submit(_ context.Context, ev types.ActionCloseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	p.stats.incSubmittedLocked(ev.Action.Type)
	sub := engine.Submission{Action: ev.Action, ArtifactID: ev.ArtifactID}

	switch ev.Action.Type {
	case types.ActionTypeShell:
		p.shellQueue = append(p.shellQueue, sub)
		p.flushFilesLocked("shell")
		p.flushShellsLocked()
	default:
		p.fileQueue = append(p.fileQueue, sub)
		if p.config.MaxBatch > 0 && len(p.fileQueue) >= p.config.MaxBatch {
			p.flushFilesLocked("max_batch")
		}
	}
	return nil
}

// EndArtifact submits the pending file batch. A following artifact starts
// a new batch.
func (p *BatchedPolicy) EndArtifact(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.flushFilesLocked("artifact_close")
	p.flushShellsLocked()
	return nil
}

// Flush submits the remaining file batch, then remaining shells, and waits
// for every submitted action.
func (p *BatchedPolicy) Flush(ctx context.Context) error {
	p.mu.Lock()
	p.flushFilesLocked("flush")
	p.flushShellsLocked()
	p.mu.Unlock()

	p.stats.incFlush()
	return p.pending.wait(ctx, p.stats)
}

// flushFilesLocked submits the file queue as one batch. Caller must hold mu.
func (p *BatchedPolicy) flushFilesLocked(reason string) {
	if len(p.fileQueue) == 0 {
		return
	}
	batch := p.fileQueue
	p.fileQueue = nil

	p.stats.recordBatchLocked(len(batch))
	p.pending.add(p.runner.RunBatch(batch)...)
	p.logBatch(len(batch), reason)
}

// flushShellsLocked submits queued shells in order. Caller must hold mu.
func (p *BatchedPolicy) flushShellsLocked() {
	for _, sub := range p.shellQueue {
		p.pending.add(p.runner.RunAction(sub.Action, sub.ArtifactID))
	}
	p.shellQueue = nil
}

// Close rejects further submissions and discards anything still queued.
// Call Flush first to run queued actions.
func (p *BatchedPolicy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dropped := len(p.fileQueue) + len(p.shellQueue); dropped > 0 && p.logger != nil {
		p.logger.Warn("discarding queued actions", map[string]any{
			"policy":  "batched",
			"dropped": dropped,
		})
	}
	p.fileQueue = nil
	p.shellQueue = nil
	p.closed = true
	return nil
}

// Stats returns policy statistics.
func (p *BatchedPolicy) Stats() Stats {
	return p.stats.snapshot()
}

func (p *BatchedPolicy) logBatch(size int, reason string) {
	if p.logger == nil {
		return
	}
	p.logger.Debug("file batch submitted", map[string]any{
		"policy": "batched",
		"size":   size,
		"reason": reason,
	})
}

var _ Policy = (*BatchedPolicy)(nil)
