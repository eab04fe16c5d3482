package policy_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/justapithecus/artificer/engine"
	"github.com/justapithecus/artificer/observer"
	"github.com/justapithecus/artificer/sandbox"
	"github.com/justapithecus/artificer/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newEngine(t *testing.T, mem *sandbox.Memory) (*engine.Engine, *observer.Recorder) {
	t.Helper()
	rec := observer.NewRecorder()
	e := engine.New(mem, engine.WithObserver(rec))
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func closed(artifactID string, action types.Action) types.ActionCloseEvent {
	return types.ActionCloseEvent{ActionEvent: types.ActionEvent{
		MessageID:  "m1",
		ArtifactID: artifactID,
		Action:     action,
	}}
}

func fileEvent(p, content string) types.ActionCloseEvent {
	return closed("a1", types.Action{Type: types.ActionTypeFile, FilePath: p, Content: content})
}

func shellEvent(cmd string) types.ActionCloseEvent {
	return closed("a1", types.Action{Type: types.ActionTypeShell, Content: cmd})
}

func flush(t *testing.T, p interface{ Flush(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
