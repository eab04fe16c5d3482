// Package lode journals session activity to a Lode dataset.
//
// The journal is write-only from the session's point of view: one JSONL
// record per action transition and per artifact open/close, partitioned
// as session_id/day/record_kind. Nothing in the engine reads it back.
package lode

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/metrics"
	"github.com/justapithecus/artificer/observer"
	"github.com/justapithecus/artificer/types"
)

// DefaultDataset is the dataset id used when Config.Dataset is empty.
const DefaultDataset = "artificer"

// flushTimeout bounds each background flush.
const flushTimeout = 30 * time.Second

// Config holds journal partition values.
type Config struct {
	// Dataset is the Lode dataset id (default "artificer").
	Dataset string
	// SessionID is the first partition key (required).
	SessionID string
	// ConversationID is recorded on the session summary when set.
	ConversationID string
	// Day is the second partition key, derived from session start.
	Day string
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the journal logger.
func WithLogger(l *log.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithCollector records write outcomes on c.
func WithCollector(c *metrics.Collector) Option {
	return func(j *Journal) { j.collector = c }
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Journal is an observer that buffers records and writes them to Lode on
// artifact close, on Flush and on Close. Failed writes keep their records
// buffered for the next attempt.
type Journal struct {
	observer.Nop

	dataset   lode.Dataset
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	mu      sync.Mutex // guards buf and seq
	buf     []any
	seq     int64
	writeMu sync.Mutex // serializes dataset writes

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewDataset creates the journal dataset over any store factory. Use
// lode.NewMemoryFactory() in tests.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// New creates a Journal writing through factory and starts its background
// flusher. Close must be called to stop it.
func New(cfg Config, factory lode.StoreFactory, opts ...Option) (*Journal, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := NewDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		dataset: ds,
		config:  cfg,
		logger:  log.NewNop(),
		now:     time.Now,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.config.Day == "" {
		j.config.Day = DeriveDay(j.now())
	}
	go j.loop()
	return j, nil
}

// NewFS creates a Journal on the local filesystem under root.
func NewFS(cfg Config, root string, opts ...Option) (*Journal, error) {
	return New(cfg, lode.NewFSFactory(root), opts...)
}

// NewS3 creates a Journal backed by S3.
func NewS3(ctx context.Context, cfg Config, s3cfg S3Config, opts ...Option) (*Journal, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return New(cfg, factory, opts...)
}

// Dataset returns the underlying dataset.
func (j *Journal) Dataset() lode.Dataset {
	return j.dataset
}

func (j *Journal) append(build func(seq int64, ts time.Time) map[string]any) {
	j.mu.Lock()
	j.seq++
	j.buf = append(j.buf, build(j.seq, j.now()))
	j.mu.Unlock()
}

// ActionChanged journals one transition.
func (j *Journal) ActionChanged(state types.ActionState) {
	j.append(func(seq int64, ts time.Time) map[string]any {
		return toActionRecordMap(state, seq, ts, j.config)
	})
}

// ArtifactChanged journals an artifact open or close. A close schedules a
// background flush.
func (j *Journal) ArtifactChanged(artifact types.Artifact, open bool) {
	j.append(func(seq int64, ts time.Time) map[string]any {
		return toArtifactRecordMap(artifact, open, seq, ts, j.config)
	})
	if !open {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
}

// WriteSummary journals the session summary and flushes.
func (j *Journal) WriteSummary(ctx context.Context, s SessionSummary) error {
	j.append(func(seq int64, ts time.Time) map[string]any {
		return toSessionRecordMap(s, seq, ts, j.config)
	})
	return j.Flush(ctx)
}

// Flush writes every buffered record as one snapshot.
func (j *Journal) Flush(ctx context.Context) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	j.mu.Lock()
	records := j.buf
	j.buf = nil
	j.mu.Unlock()
	if len(records) == 0 {
		return nil
	}

	_, err := j.dataset.Write(ctx, records, lode.Metadata{})
	j.collector.IncJournalWrite(err == nil)
	if err != nil {
		// Keep records for the next attempt, ahead of anything newer.
		j.mu.Lock()
		j.buf = append(records, j.buf...)
		j.mu.Unlock()
		err = WrapWriteError(err, j.config.Dataset)
		j.logger.Warn("journal write failed", map[string]any{
			"records": len(records),
			"error":   err.Error(),
		})
		return err
	}
	j.logger.Debug("journal flushed", map[string]any{"records": len(records)})
	return nil
}

func (j *Journal) loop() {
	defer close(j.done)
	for {
		select {
		case <-j.kick:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			_ = j.Flush(ctx)
			cancel()
		case <-j.stop:
			return
		}
	}
}

// Close stops the background flusher and writes what is left.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.stop) })
	<-j.done
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return j.Flush(ctx)
}
