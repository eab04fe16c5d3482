package policy_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/justapithecus/artificer/policy"
	"github.com/justapithecus/artificer/sandbox"
	"github.com/justapithecus/artificer/types"
)

func TestStrictPolicy_SubmitsImmediately(t *testing.T) {
	mem := sandbox.NewMemory()
	e, _ := newEngine(t, mem)
	pol := policy.NewStrictPolicy(e)

	if err := pol.Submit(t.Context(), fileEvent("a.txt", "a")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Registered with the engine before any Flush.
	if got := len(e.AllActionStatuses()); got != 1 {
		t.Fatalf("expected 1 registered action, got %d", got)
	}

	flush(t, pol)
	if got := mem.Files()["/a.txt"]; got != "a" {
		t.Errorf("a.txt = %q, want %q", got, "a")
	}
}

func TestStrictPolicy_PreservesOrder(t *testing.T) {
	mem := sandbox.NewMemory()
	var seen []string
	mem.Handle("check", func(_ context.Context, _ []string, _ io.Writer) int {
		files := mem.Files()
		for _, p := range []string{"/one.txt", "/two.txt"} {
			if _, ok := files[p]; ok {
				seen = append(seen, p)
			}
		}
		return 0
	})
	e, _ := newEngine(t, mem)
	pol := policy.NewStrictPolicy(e)

	for _, ev := range []types.ActionCloseEvent{
		fileEvent("one.txt", "1"),
		shellEvent("check"),
		fileEvent("two.txt", "2"),
	} {
		if err := pol.Submit(t.Context(), ev); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	flush(t, pol)

	if diff := cmp.Diff([]string{"/one.txt"}, seen); diff != "" {
		t.Errorf("files visible to shell (-want +got):\n%s", diff)
	}

	want := policy.Stats{Submitted: 3, Files: 2, Shells: 1, Completed: 3, FlushCount: 1}
	if diff := cmp.Diff(want, pol.Stats()); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
}

func TestStrictPolicy_CountsFailures(t *testing.T) {
	mem := sandbox.NewMemory()
	e, _ := newEngine(t, mem)
	pol := policy.NewStrictPolicy(e)

	_ = pol.Submit(t.Context(), shellEvent("missing-binary"))
	_ = pol.Submit(t.Context(), fileEvent("after.txt", "x"))
	flush(t, pol)

	stats := pol.Stats()
	if stats.Failed != 1 || stats.Completed != 1 {
		t.Errorf("expected 1 failed and 1 completed, got %+v", stats)
	}
}

func TestStrictPolicy_SubmitAfterClose(t *testing.T) {
	e, _ := newEngine(t, sandbox.NewMemory())
	pol := policy.NewStrictPolicy(e)
	if err := pol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := pol.Submit(t.Context(), fileEvent("a.txt", "a"))
	if !errors.Is(err, policy.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if got := len(e.AllActionStatuses()); got != 0 {
		t.Errorf("expected nothing registered, got %d", got)
	}
}

func TestStrictPolicy_FlushHonorsContext(t *testing.T) {
	mem := sandbox.NewMemory()
	release := make(chan struct{})
	mem.Handle("block", func(ctx context.Context, _ []string, _ io.Writer) int {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0
	})
	e, _ := newEngine(t, mem)
	pol := policy.NewStrictPolicy(e)
	_ = pol.Submit(t.Context(), shellEvent("block"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := pol.Flush(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The handle stays tracked and a later Flush observes it.
	close(release)
	flush(t, pol)
	if got := pol.Stats().Completed; got != 1 {
		t.Errorf("expected Completed=1, got %d", got)
	}
}
