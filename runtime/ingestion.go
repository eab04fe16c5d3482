package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/justapithecus/artificer/ipc"
	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/metrics"
	"github.com/justapithecus/artificer/observer"
	"github.com/justapithecus/artificer/parser"
	"github.com/justapithecus/artificer/policy"
	"github.com/justapithecus/artificer/types"
)

// SessionError classifies session errors for outcome determination.
type SessionError struct {
	// Kind indicates which stage failed.
	Kind SessionErrorKind
	// Err is the underlying error.
	Err error
}

// SessionErrorKind classifies session errors.
type SessionErrorKind int

const (
	// SessionErrorStream indicates the source could not be read or decoded.
	SessionErrorStream SessionErrorKind = iota
	// SessionErrorSandbox indicates sandbox initialization failed.
	SessionErrorSandbox
	// SessionErrorPolicy indicates the policy rejected a submission.
	SessionErrorPolicy
	// SessionErrorCanceled indicates context cancellation.
	SessionErrorCanceled
)

func (e *SessionError) Error() string {
	return e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func isKind(err error, kind SessionErrorKind) bool {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Kind == kind
	}
	return false
}

// IsStreamError returns true if the error is a stream/frame error.
func IsStreamError(err error) bool {
	return isKind(err, SessionErrorStream)
}

// IsSandboxError returns true if the error is a sandbox initialization failure.
func IsSandboxError(err error) bool {
	return isKind(err, SessionErrorSandbox)
}

// IsPolicyError returns true if the error is a policy failure.
func IsPolicyError(err error) bool {
	return isKind(err, SessionErrorPolicy)
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	return isKind(err, SessionErrorCanceled)
}

// TextSink receives prose found outside tags, in stream order.
type TextSink func(messageID, text string)

// ingestion drives one source through the parser into the policy.
//
// Ordering rules:
//   - events are handled in the order the parser returns them
//   - an artifact close hands queued actions to the engine before
//     observers learn the artifact closed
//   - non-fatal frame errors are counted and skipped
//   - a fatal frame error or a read error ends ingestion
type ingestion struct {
	source    Source
	parser    *parser.Parser
	policy    policy.Policy
	observer  observer.Observer
	sink      TextSink
	logger    *log.Logger
	collector *metrics.Collector

	chunks      int64
	ended       map[string]bool
	parseErrors []types.ParseErrorEvent
	pending     map[string]parser.Pending
}

func newIngestion(
	source Source,
	p *parser.Parser,
	pol policy.Policy,
	obs observer.Observer,
	sink TextSink,
	logger *log.Logger,
	collector *metrics.Collector,
) *ingestion {
	return &ingestion{
		source:    source,
		parser:    p,
		policy:    pol,
		observer:  obs,
		sink:      sink,
		logger:    logger,
		collector: collector,
		ended:     make(map[string]bool),
		pending:   make(map[string]parser.Pending),
	}
}

// sourceItem is one read from the source, or the error that ended it.
type sourceItem struct {
	item Item
	err  error
}

// run reads the source until EOF, a fatal error or ctx cancellation.
// Reads happen on their own goroutine so that cancellation is observed
// while the source is blocked.
//
// Returns:
//   - nil: source ended cleanly
//   - *SessionError with Kind=SessionErrorStream: read or framing error
//   - *SessionError with Kind=SessionErrorPolicy: submission rejected
//   - *SessionError with Kind=SessionErrorCanceled: ctx done
func (g *ingestion) run(ctx context.Context) error {
	items := make(chan sourceItem)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			it, err := g.source.Next()
			select {
			case items <- sourceItem{item: it, err: err}:
			case <-stop:
				return
			}
			if err != nil && (err == io.EOF || !isRecoverable(err)) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return &SessionError{Kind: SessionErrorCanceled, Err: ctx.Err()}
		case si := <-items:
			if si.err == io.EOF {
				return g.finishAll(ctx)
			}
			if si.err != nil {
				if isRecoverable(si.err) {
					g.collector.IncFrameErrors()
					g.logger.Warn("skipping bad frame", map[string]any{"error": si.err.Error()})
					continue
				}
				g.collector.IncFrameErrors()
				_ = g.finishAll(ctx)
				return &SessionError{Kind: SessionErrorStream, Err: fmt.Errorf("read source: %w", si.err)}
			}
			if err := g.handle(ctx, si.item); err != nil {
				return err
			}
		}
	}
}

// isRecoverable reports whether reading may continue after err.
func isRecoverable(err error) bool {
	var frameErr *ipc.FrameError
	return errors.As(err, &frameErr) && !frameErr.IsFatal()
}

func (g *ingestion) handle(ctx context.Context, it Item) error {
	if it.Text != "" {
		// A message id may be reused after its end.
		delete(g.ended, it.MessageID)
		g.chunks++
		g.collector.ObserveChunk(len(it.Text))
		for _, ev := range g.parser.Parse(it.MessageID, it.Text) {
			if err := g.dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}
	if it.End {
		return g.finish(ctx, it.MessageID)
	}
	return nil
}

func (g *ingestion) dispatch(ctx context.Context, ev types.Event) error {
	switch ev := ev.(type) {
	case types.TextEvent:
		if g.sink != nil {
			g.sink(ev.MessageID, ev.Text)
		}
	case types.ArtifactOpenEvent:
		g.observer.ArtifactChanged(ev.Artifact, true)
	case types.ArtifactCloseEvent:
		if err := g.policy.EndArtifact(ctx, ev.Artifact.ID); err != nil {
			return &SessionError{Kind: SessionErrorPolicy, Err: fmt.Errorf("end artifact %s: %w", ev.Artifact.ID, err)}
		}
		g.observer.ArtifactChanged(ev.Artifact, false)
	case types.ActionOpenEvent:
		g.logger.Debug("action opened", map[string]any{
			"artifact_id": ev.ArtifactID,
			"action_type": string(ev.Action.Type),
			"file_path":   ev.Action.FilePath,
		})
	case types.ActionUpdateEvent:
		// Content grows until close; nothing runs before then.
	case types.ActionCloseEvent:
		if err := g.policy.Submit(ctx, ev); err != nil {
			return &SessionError{Kind: SessionErrorPolicy, Err: fmt.Errorf("submit action: %w", err)}
		}
	case types.ParseErrorEvent:
		g.collector.IncParseErrors()
		g.parseErrors = append(g.parseErrors, ev)
		g.logger.Warn("rejected tag", map[string]any{
			"message_id": ev.MessageID,
			"error_kind": string(ev.ErrorKind),
			"tag":        ev.Tag,
			"detail":     ev.Detail,
		})
	}
	return nil
}

// finish flushes a message's trailing prose, records what it left open
// and drops its parser state.
func (g *ingestion) finish(ctx context.Context, messageID string) error {
	if g.ended[messageID] {
		return nil
	}
	g.ended[messageID] = true
	for _, ev := range g.parser.End(messageID) {
		if err := g.dispatch(ctx, ev); err != nil {
			return err
		}
	}
	if p := g.parser.Pending(messageID); !p.Empty() {
		g.pending[messageID] = p
		g.logger.Warn("message ended incomplete", map[string]any{"message_id": messageID})
	}
	g.parser.Forget(messageID)
	return nil
}

// finishAll ends every message still held by the parser.
func (g *ingestion) finishAll(ctx context.Context) error {
	for _, id := range g.parser.Messages() {
		if err := g.finish(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
