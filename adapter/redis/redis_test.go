package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/justapithecus/artificer/adapter"
	"github.com/justapithecus/artificer/iox"
)

func testEvent() *adapter.ArtifactCompletedEvent {
	return &adapter.ArtifactCompletedEvent{
		ContractVersion: "0.4.0",
		EventType:       adapter.EventTypeArtifactCompleted,
		SessionID:       "sess-001",
		ArtifactID:      "todo-app",
		Title:           "Todo App",
		Outcome:         adapter.OutcomeFailed,
		Actions:         4,
		Failed:          1,
		Timestamp:       "2026-10-18T12:00:00Z",
		DurationMs:      1500,
	}
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))
	return a
}

// asyncReceive reads one message on a goroutine. It must be called before
// Publish because miniredis delivers pub/sub messages synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func decode(t *testing.T, s string) adapter.ArtifactCompletedEvent {
	t.Helper()
	var ev adapter.ArtifactCompletedEvent
	if err := json.Unmarshal([]byte(s), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return ev
}

func TestPublish_Channels(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    string
	}{
		{name: "default", channel: "", want: DefaultChannel},
		{name: "custom", channel: "custom:notifications", want: "custom:notifications"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), Channel: tt.channel})

			sub := mr.NewSubscriber()
			sub.Subscribe(tt.want)
			ch := asyncReceive(sub)

			if err := a.Publish(t.Context(), testEvent()); err != nil {
				t.Fatalf("publish: %v", err)
			}

			msg := waitMessage(t, ch)
			if msg.Channel != tt.want {
				t.Errorf("channel = %q, want %q", msg.Channel, tt.want)
			}
			if diff := cmp.Diff(*testEvent(), decode(t, msg.Message)); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPublish_StateHash(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, Config{
		URL:            "redis://" + mr.Addr(),
		StateKeyPrefix: "artificer:session:",
		StateTTL:       time.Hour,
	})

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	key := a.StateKey("sess-001")
	if key != "artificer:session:sess-001" {
		t.Fatalf("state key = %q", key)
	}
	got := decode(t, mr.HGet(key, "todo-app"))
	if got.Outcome != adapter.OutcomeFailed || got.Failed != 1 {
		t.Errorf("stored event = %+v", got)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	// A later event for the same artifact replaces the stored one.
	ev := testEvent()
	ev.Outcome = adapter.OutcomeSuccess
	ev.Failed = 0
	if err := a.Publish(t.Context(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := decode(t, mr.HGet(key, "todo-app")); got.Outcome != adapter.OutcomeSuccess {
		t.Errorf("stored outcome = %s, want success", got.Outcome)
	}
}

func TestPublish_NoStateByDefault(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr()})

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if key := a.StateKey("sess-001"); key != "" {
		t.Errorf("state key = %q, want empty", key)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestPublish_RetriesOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SetError("LOADING server is loading")

	a := newAdapter(t, Config{
		URL:     "redis://" + mr.Addr(),
		Retries: 4,
		Timeout: 5 * time.Second,
		Backoff: 50 * time.Millisecond,
	})

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	// Recover after the first attempt has failed.
	timer := time.AfterFunc(20*time.Millisecond, func() { mr.SetError("") })
	defer timer.Stop()

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish should succeed after retries: %v", err)
	}
	waitMessage(t, ch)
}

func TestPublish_Unreachable(t *testing.T) {
	t.Run("exhausts retries", func(t *testing.T) {
		a := newAdapter(t, Config{URL: "redis://127.0.0.1:1", Retries: 2, Timeout: 100 * time.Millisecond, Backoff: 10 * time.Millisecond})
		if err := a.Publish(t.Context(), testEvent()); err == nil {
			t.Fatal("expected error after exhausting retries")
		}
	})
	t.Run("context deadline", func(t *testing.T) {
		a := newAdapter(t, Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
		ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
		defer cancel()
		if err := a.Publish(ctx, testEvent()); err == nil {
			t.Fatal("expected error on canceled context")
		}
	})
}

func TestPublish_AfterCloseFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 5, Backoff: time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	start := time.Now()
	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error after close")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("closed client was retried for %v", elapsed)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "missing url", cfg: Config{}, wantErr: true},
		{name: "invalid url", cfg: Config{URL: "not-a-redis-url"}, wantErr: true},
		{name: "negative retries", cfg: Config{URL: "redis://localhost:6379", Retries: -1}, wantErr: true},
		{name: "valid", cfg: Config{URL: "redis://localhost:6379"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if a != nil {
				_ = a.Close()
			}
		})
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	a := newAdapter(t, Config{URL: "redis://localhost:6379"})
	if a.config.Channel != DefaultChannel {
		t.Errorf("channel = %q, want %q", a.config.Channel, DefaultChannel)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", a.config.Timeout, DefaultTimeout)
	}
	if a.config.StateTTL != DefaultStateTTL {
		t.Errorf("state ttl = %v, want %v", a.config.StateTTL, DefaultStateTTL)
	}
}
