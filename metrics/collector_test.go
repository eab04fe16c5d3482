package metrics

import (
	"sync"
	"testing"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("batched", "local", "fs", "sess-1")

	c.ObserveChunk(10)
	c.ObserveChunk(5)
	c.IncParseErrors()
	c.IncFrameErrors()
	c.IncActionRegistered("file")
	c.IncActionRegistered("file")
	c.IncActionRegistered("shell")
	c.IncActionCompleted()
	c.IncActionCompleted()
	c.IncActionFailed()
	c.IncSandboxBoot(true)
	c.IncProcessesSpawned()
	c.IncJournalWrite(true)
	c.IncJournalWrite(false)
	c.IncNotify(true)
	c.AbsorbPolicyStats(2, 3)

	s := c.Snapshot()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"ChunksReceived", s.ChunksReceived, 2},
		{"BytesReceived", s.BytesReceived, 15},
		{"ParseErrors", s.ParseErrors, 1},
		{"FrameErrors", s.FrameErrors, 1},
		{"ActionsRegistered", s.ActionsRegistered, 3},
		{"ActionsCompleted", s.ActionsCompleted, 2},
		{"ActionsFailed", s.ActionsFailed, 1},
		{"ActionsAborted", s.ActionsAborted, 0},
		{"ActionsByType[file]", s.ActionsByType["file"], 2},
		{"ActionsByType[shell]", s.ActionsByType["shell"], 1},
		{"SandboxBootSuccess", s.SandboxBootSuccess, 1},
		{"SandboxBootFailure", s.SandboxBootFailure, 0},
		{"ProcessesSpawned", s.ProcessesSpawned, 1},
		{"JournalWriteSuccess", s.JournalWriteSuccess, 1},
		{"JournalWriteFailure", s.JournalWriteFailure, 1},
		{"NotifyPublished", s.NotifyPublished, 1},
		{"BatchesFlushed", s.BatchesFlushed, 2},
		{"MaxBatchSize", s.MaxBatchSize, 3},
	}
	for _, tt := range checks {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("strict", "memory", "none", "sess-42").Snapshot()

	if s.Policy != "strict" || s.Sandbox != "memory" || s.JournalBackend != "none" || s.SessionID != "sess-42" {
		t.Errorf("dimensions = %+v", s)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.ObserveChunk(1)
	c.IncActionRegistered("file")
	c.IncSandboxBoot(false)
	if s := c.Snapshot(); s.ActionsRegistered != 0 {
		t.Errorf("nil collector snapshot = %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("strict", "local", "fs", "s")
	c.IncActionRegistered("file")

	s := c.Snapshot()
	s.ActionsByType["file"] = 99

	if got := c.Snapshot().ActionsByType["file"]; got != 1 {
		t.Errorf("mutating snapshot leaked into collector: got %d", got)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("batched", "local", "fs", "s")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncActionRegistered("shell")
			c.IncActionCompleted()
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.ActionsRegistered != 50 || s.ActionsCompleted != 50 {
		t.Errorf("after concurrent increments: %+v", s)
	}
}
