package observer

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/artificer/adapter"
	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/metrics"
	"github.com/justapithecus/artificer/types"
)

// DefaultNotifyTimeout bounds a single publish, retries included.
const DefaultNotifyTimeout = 30 * time.Second

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	Adapter   adapter.Adapter
	SessionID string
	// Timeout bounds each publish (default 30s).
	Timeout   time.Duration
	Logger    *log.Logger
	Collector *metrics.Collector
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Notifier publishes an ArtifactCompletedEvent once an artifact has been
// closed by the parser and every action registered for it is terminal.
// Publishing happens on a background goroutine; hooks never block.
type Notifier struct {
	Nop

	cfg NotifierConfig
	wg  sync.WaitGroup

	mu        sync.Mutex
	artifacts map[string]*artifactOutcome
}

type artifactOutcome struct {
	title     string
	openedAt  time.Time
	closed    bool
	published bool
	actions   map[string]types.ActionStatus
}

func (a *artifactOutcome) settled() bool {
	for _, s := range a.actions {
		if !s.IsTerminal() {
			return false
		}
	}
	return true
}

// NewNotifier creates a Notifier. Call Close to wait for in-flight
// publishes.
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultNotifyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Notifier{cfg: cfg, artifacts: make(map[string]*artifactOutcome)}
}

func (n *Notifier) track(id string) *artifactOutcome {
	a, ok := n.artifacts[id]
	if !ok {
		a = &artifactOutcome{
			openedAt: n.cfg.Now(),
			actions:  make(map[string]types.ActionStatus),
		}
		n.artifacts[id] = a
	}
	return a
}

func (n *Notifier) ArtifactChanged(artifact types.Artifact, open bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a := n.track(artifact.ID)
	a.title = artifact.Title
	if open {
		return
	}
	a.closed = true
	n.maybePublishLocked(artifact.ID, a)
}

func (n *Notifier) ActionChanged(state types.ActionState) {
	if state.ArtifactID == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	a := n.track(state.ArtifactID)
	a.actions[state.ID] = state.Status
	n.maybePublishLocked(state.ArtifactID, a)
}

// maybePublishLocked fires at most once per artifact. Caller must hold mu.
func (n *Notifier) maybePublishLocked(id string, a *artifactOutcome) {
	if !a.closed || a.published || !a.settled() {
		return
	}
	a.published = true

	now := n.cfg.Now()
	ev := &adapter.ArtifactCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       adapter.EventTypeArtifactCompleted,
		SessionID:       n.cfg.SessionID,
		ArtifactID:      id,
		Title:           a.title,
		Outcome:         adapter.OutcomeSuccess,
		Actions:         len(a.actions),
		Timestamp:       now.UTC().Format(time.RFC3339),
		DurationMs:      now.Sub(a.openedAt).Milliseconds(),
	}
	aborted := false
	for _, s := range a.actions {
		switch s {
		case types.ActionFailed:
			ev.Failed++
		case types.ActionAborted:
			aborted = true
		}
	}
	switch {
	case ev.Failed > 0:
		ev.Outcome = adapter.OutcomeFailed
	case aborted:
		ev.Outcome = adapter.OutcomeAborted
	}

	n.wg.Add(1)
	go n.publish(ev)
}

func (n *Notifier) publish(ev *adapter.ArtifactCompletedEvent) {
	defer n.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	err := n.cfg.Adapter.Publish(ctx, ev)
	n.cfg.Collector.IncNotify(err == nil)
	if err != nil {
		n.cfg.Logger.Warn("artifact notification failed", map[string]any{
			"artifact_id": ev.ArtifactID,
			"error":       err.Error(),
		})
		return
	}
	n.cfg.Logger.Info("artifact notification published", map[string]any{
		"artifact_id": ev.ArtifactID,
		"outcome":     ev.Outcome,
	})
}

// Close waits for in-flight publishes and closes the adapter.
func (n *Notifier) Close() error {
	n.wg.Wait()
	return n.cfg.Adapter.Close()
}
