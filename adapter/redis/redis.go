// Package redis publishes artifact completion events on a Redis pub/sub
// channel. With a state key prefix it also keeps the latest event of each
// artifact in a per-session hash, so late subscribers can catch up.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/artificer/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "artificer:artifact_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultStateTTL is how long a session state hash outlives its last write.
const DefaultStateTTL = 24 * time.Hour

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: artificer:artifact_completed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the delay before the first retry (default 500ms).
	Backoff time.Duration
	// StateKeyPrefix enables the state hash <prefix><session_id>, keyed by
	// artifact id. Empty disables it.
	StateKeyPrefix string
	// StateTTL is the state hash expiry (default 24h).
	StateTTL time.Duration
}

// Adapter publishes artifact completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// StateKey returns the state hash key for a session, or "" when state is
// disabled.
func (a *Adapter) StateKey(sessionID string) string {
	if a.config.StateKeyPrefix == "" {
		return ""
	}
	return a.config.StateKeyPrefix + sessionID
}

// Publish sends the event as JSON to the configured channel, after
// recording it in the state hash when enabled. Zero subscribers is not an
// error. Failures are retried except on a closed client.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ArtifactCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	stateKey := a.StateKey(event.SessionID)

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, isClosed, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		_, err := a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
			if stateKey != "" {
				p.HSet(ctx, stateKey, event.ArtifactID, body)
				p.Expire(ctx, stateKey, a.config.StateTTL)
			}
			p.Publish(ctx, a.config.Channel, body)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, goredis.ErrClosed)
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
