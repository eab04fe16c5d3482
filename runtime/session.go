// Package runtime runs one streaming session end to end: a source feeds
// the parser, closed actions go through a submission policy to the engine,
// and the session ends with a classified outcome.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/artificer/engine"
	"github.com/justapithecus/artificer/lode"
	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/metrics"
	"github.com/justapithecus/artificer/observer"
	"github.com/justapithecus/artificer/parser"
	"github.com/justapithecus/artificer/policy"
	"github.com/justapithecus/artificer/sandbox"
	"github.com/justapithecus/artificer/types"
)

// DefaultFlushTimeout bounds the final flush after an abort or a fatal
// error. A clean end of stream waits for every action without a bound.
const DefaultFlushTimeout = 30 * time.Second

// Watcher is implemented by sandboxes that can report changes made
// outside the engine, such as sandbox.Local.
type Watcher interface {
	Watch(ctx context.Context, debounce time.Duration, fn func(paths []string)) error
}

var _ Watcher = (*sandbox.Local)(nil)

// SessionConfig configures a single session.
type SessionConfig struct {
	// SessionID identifies the session in logs, journal and notifications.
	SessionID string
	// Source yields the stream.
	Source Source
	// Engine executes actions. The session initializes it but does not
	// close it.
	Engine *engine.Engine
	// Policy decides when closed actions reach the engine.
	Policy policy.Policy
	// Observer receives artifact open/close. It should be the observer the
	// engine was built with.
	Observer observer.Observer
	// TextSink receives prose. Optional.
	TextSink TextSink
	// Journal receives the session summary. Optional.
	Journal *lode.Journal
	// Watch starts a file tree watcher when the sandbox supports it.
	Watch bool
	// WatchDebounce is the watcher quiet period.
	WatchDebounce time.Duration
	// FlushTimeout bounds the best-effort flush (default 30s).
	FlushTimeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Collector is the metrics collector for this session.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
}

// Result represents the result of a session.
type Result struct {
	SessionID string
	Outcome   Outcome
	Message   string
	// Actions holds every action state in registration order.
	Actions     []types.ActionState
	Failed      int
	PolicyStats policy.Stats
	Metrics     metrics.Snapshot
	ParseErrors []types.ParseErrorEvent
	// Pending maps message id to what the message left open.
	Pending  map[string]parser.Pending
	Chunks   int64
	Duration time.Duration
}

// Session orchestrates a single streaming session.
type Session struct {
	config    *SessionConfig
	logger    *log.Logger
	startTime time.Time
}

// NewSession validates cfg and creates a session.
func NewSession(cfg *SessionConfig) (*Session, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("session config is required")
	case cfg.Source == nil:
		return nil, errors.New("session source is required")
	case cfg.Engine == nil:
		return nil, errors.New("session engine is required")
	case cfg.Policy == nil:
		return nil, errors.New("session policy is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = observer.Nop{}
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Session{config: cfg, logger: logger}, nil
}

// Execute runs the session end-to-end. It returns an error only if the
// session could not run at all; every classified failure is reported on
// Result.Outcome.
//
// Execution flow:
//  1. Initialize the engine (sandbox boot and self-test)
//  2. Start the file tree watcher, if requested
//  3. Ingest the source until it ends
//  4. Flush the policy and wait for every action
//  5. Determine the outcome and write the journal summary
func (s *Session) Execute(ctx context.Context) (*Result, error) {
	s.startTime = time.Now()
	cfg := s.config

	s.logger.Info("starting session", nil)

	if err := cfg.Engine.Initialize(ctx); err != nil {
		var sessErr error = &SessionError{Kind: SessionErrorSandbox, Err: err}
		if !engine.IsInitError(err) && ctx.Err() != nil {
			sessErr = &SessionError{Kind: SessionErrorCanceled, Err: err}
		}
		return s.finish(ctx, sessErr, nil), nil
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := s.startWatch(watchCtx)

	ing := newIngestion(cfg.Source, parser.New(), cfg.Policy, cfg.Observer, cfg.TextSink, s.logger, cfg.Collector)
	ingErr := ing.run(ctx)

	if ingErr != nil && !IsCanceledError(ingErr) {
		s.logger.Error("ingestion failed", map[string]any{"error": ingErr.Error()})
	}

	if IsCanceledError(ingErr) {
		s.abort(ctx)
	} else if err := cfg.Policy.Flush(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("policy flush failed", map[string]any{"error": err.Error()})
		} else {
			ingErr = &SessionError{Kind: SessionErrorCanceled, Err: err}
			s.abort(ctx)
		}
	}
	if err := cfg.Policy.Close(); err != nil {
		s.logger.Warn("policy close failed", map[string]any{"error": err.Error()})
	}

	stopWatch()
	<-watchDone
	cfg.Engine.RefreshFileTree(context.WithoutCancel(ctx))

	return s.finish(ctx, ingErr, ing), nil
}

// abort discards queued actions, aborts the submitted ones and waits,
// bounded, for the policy to tally their outcomes.
func (s *Session) abort(ctx context.Context) {
	cfg := s.config
	_ = cfg.Policy.Close()
	cfg.Engine.Abort()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.FlushTimeout)
	defer cancel()
	if err := cfg.Policy.Flush(flushCtx); err != nil {
		s.logger.Warn("policy flush failed (best effort)", map[string]any{"error": err.Error()})
	}
	s.logger.Info("session aborted", nil)
}

// startWatch runs the sandbox watcher until ctx is done. The returned
// channel is closed when the watcher has stopped.
func (s *Session) startWatch(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	w, ok := s.config.Engine.Sandbox().(Watcher)
	if !s.config.Watch || !ok {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		err := w.Watch(ctx, s.config.WatchDebounce, func(paths []string) {
			s.logger.Debug("sandbox changed", map[string]any{"paths": len(paths)})
			s.config.Engine.RefreshFileTree(ctx)
		})
		if err != nil {
			s.logger.Warn("sandbox watcher stopped", map[string]any{"error": err.Error()})
		}
	}()
	return done
}

// finish builds the result, absorbs stats and writes the journal summary.
func (s *Session) finish(ctx context.Context, sessErr error, ing *ingestion) *Result {
	cfg := s.config
	result := &Result{
		SessionID:   cfg.SessionID,
		Actions:     cfg.Engine.AllActionStatuses(),
		PolicyStats: cfg.Policy.Stats(),
		Pending:     map[string]parser.Pending{},
	}
	for _, st := range result.Actions {
		if st.Status == types.ActionFailed {
			result.Failed++
		}
	}
	if ing != nil {
		result.ParseErrors = ing.parseErrors
		result.Pending = ing.pending
		result.Chunks = ing.chunks
	}

	result.Outcome, result.Message = determineOutcome(sessErr, len(result.Pending) > 0, result.Failed)
	result.Duration = time.Since(s.startTime)

	ps := result.PolicyStats
	cfg.Collector.AbsorbPolicyStats(ps.BatchesFlushed, ps.MaxBatchSize)
	result.Metrics = cfg.Collector.Snapshot()

	s.logger.Info("session completed", map[string]any{
		"outcome":  string(result.Outcome),
		"actions":  len(result.Actions),
		"failed":   result.Failed,
		"duration": result.Duration.String(),
	})

	if cfg.Journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.FlushTimeout)
		defer cancel()
		err := cfg.Journal.WriteSummary(jctx, lode.SessionSummary{
			Outcome:    string(result.Outcome),
			Actions:    len(result.Actions),
			Failed:     result.Failed,
			DurationMs: result.Duration.Milliseconds(),
			Metrics:    summaryMetrics(result.Metrics),
		})
		if err != nil {
			s.logger.Warn("journal summary failed", map[string]any{"error": err.Error()})
		}
	}
	return result
}

// summaryMetrics flattens the counters worth keeping in the journal.
func summaryMetrics(m metrics.Snapshot) map[string]any {
	byType := make(map[string]any, len(m.ActionsByType))
	for k, v := range m.ActionsByType {
		byType[k] = v
	}
	return map[string]any{
		"chunks_received":   m.ChunksReceived,
		"bytes_received":    m.BytesReceived,
		"parse_errors":      m.ParseErrors,
		"frame_errors":      m.FrameErrors,
		"batches_flushed":   m.BatchesFlushed,
		"max_batch_size":    m.MaxBatchSize,
		"processes_spawned": m.ProcessesSpawned,
		"actions_by_type":   byType,
	}
}

// String summarizes the result on one line.
func (r *Result) String() string {
	return fmt.Sprintf("%s: %d actions, %d failed, %d parse errors in %s",
		r.Outcome, len(r.Actions), r.Failed, len(r.ParseErrors), r.Duration.Round(time.Millisecond))
}
