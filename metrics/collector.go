// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters during a single session. It is a leaf
// package with no internal dependencies: action types are passed as plain
// strings. Policy counters are absorbed from policy.Stats at session end
// rather than recorded live.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
type Snapshot struct {
	// Stream
	ChunksReceived int64
	BytesReceived  int64
	ParseErrors    int64
	FrameErrors    int64

	// Actions, by outcome
	ActionsRegistered int64
	ActionsCompleted  int64
	ActionsFailed     int64
	ActionsAborted    int64
	ActionsByType     map[string]int64

	// Sandbox
	SandboxBootSuccess int64
	SandboxBootFailure int64
	ProcessesSpawned   int64

	// Batching (absorbed from policy.Stats at session end)
	BatchesFlushed int64
	MaxBatchSize   int64

	// Journal
	JournalWriteSuccess int64
	JournalWriteFailure int64

	// Notifications
	NotifyPublished int64
	NotifyFailed    int64

	// Dimensions (informational, set at construction)
	Policy         string
	Sandbox        string
	JournalBackend string
	SessionID      string
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(policy, sandbox, journalBackend, sessionID string) *Collector {
	return &Collector{s: Snapshot{
		ActionsByType:  make(map[string]int64),
		Policy:         policy,
		Sandbox:        sandbox,
		JournalBackend: journalBackend,
		SessionID:      sessionID,
	}}
}

func (c *Collector) update(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// --- Stream ---

// ObserveChunk records one received chunk of n bytes.
func (c *Collector) ObserveChunk(n int) {
	c.update(func(s *Snapshot) {
		s.ChunksReceived++
		s.BytesReceived += int64(n)
	})
}

// IncParseErrors records a rejected tag.
func (c *Collector) IncParseErrors() {
	c.update(func(s *Snapshot) { s.ParseErrors++ })
}

// IncFrameErrors records a stream frame decode error.
func (c *Collector) IncFrameErrors() {
	c.update(func(s *Snapshot) { s.FrameErrors++ })
}

// --- Actions ---

// IncActionRegistered records an action registration by type.
func (c *Collector) IncActionRegistered(actionType string) {
	c.update(func(s *Snapshot) {
		s.ActionsRegistered++
		s.ActionsByType[actionType]++
	})
}

// IncActionCompleted records an action reaching complete.
func (c *Collector) IncActionCompleted() {
	c.update(func(s *Snapshot) { s.ActionsCompleted++ })
}

// IncActionFailed records an action reaching failed.
func (c *Collector) IncActionFailed() {
	c.update(func(s *Snapshot) { s.ActionsFailed++ })
}

// IncActionAborted records an action reaching aborted.
func (c *Collector) IncActionAborted() {
	c.update(func(s *Snapshot) { s.ActionsAborted++ })
}

// --- Sandbox ---

// IncSandboxBoot records a boot attempt outcome.
func (c *Collector) IncSandboxBoot(ok bool) {
	c.update(func(s *Snapshot) {
		if ok {
			s.SandboxBootSuccess++
		} else {
			s.SandboxBootFailure++
		}
	})
}

// IncProcessesSpawned records a spawned shell process.
func (c *Collector) IncProcessesSpawned() {
	c.update(func(s *Snapshot) { s.ProcessesSpawned++ })
}

// --- Journal ---
// Journal counters are per-call, not per-record.

// IncJournalWrite records a journal write outcome.
func (c *Collector) IncJournalWrite(ok bool) {
	c.update(func(s *Snapshot) {
		if ok {
			s.JournalWriteSuccess++
		} else {
			s.JournalWriteFailure++
		}
	})
}

// --- Notifications ---

// IncNotify records a notification publish outcome.
func (c *Collector) IncNotify(ok bool) {
	c.update(func(s *Snapshot) {
		if ok {
			s.NotifyPublished++
		} else {
			s.NotifyFailed++
		}
	})
}

// --- Batching (absorbed from policy.Stats) ---

// AbsorbPolicyStats copies batching counters from policy.Stats.
// Called once after the session's final flush.
func (c *Collector) AbsorbPolicyStats(batchesFlushed, maxBatchSize int64) {
	c.update(func(s *Snapshot) {
		s.BatchesFlushed = batchesFlushed
		s.MaxBatchSize = maxBatchSize
	})
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.s
	out.ActionsByType = make(map[string]int64, len(c.s.ActionsByType))
	for k, v := range c.s.ActionsByType {
		out.ActionsByType[k] = v
	}
	return out
}
