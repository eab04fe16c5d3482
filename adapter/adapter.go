// Package adapter defines the notification boundary for completed artifacts.
//
// Adapters publish one event per finished artifact to a downstream system.
// The session owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeArtifactCompleted is the only event type published today.
const EventTypeArtifactCompleted = "artifact_completed"

// Outcome values for ArtifactCompletedEvent.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
)

// ArtifactCompletedEvent is the payload published when every action of a
// closed artifact has reached a terminal status.
type ArtifactCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "artifact_completed"
	SessionID       string `json:"session_id"`
	ArtifactID      string `json:"artifact_id"`
	Title           string `json:"title"`
	Outcome         string `json:"outcome"` // success, failed, aborted
	Actions         int    `json:"actions"`
	Failed          int    `json:"failed"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes artifact completion events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *ArtifactCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the delay before the first retry. Each later retry
// doubles it.
const DefaultBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when fn succeeds, when ctx ends, or when
// permanent reports the error as not worth retrying.
func Retry(ctx context.Context, retries int, backoff time.Duration, permanent func(error) bool, fn func(context.Context) error) error {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			t := time.NewTimer(backoff << uint(i-1))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-t.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
