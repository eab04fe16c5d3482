package lode

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/artificer/metrics"
	"github.com/justapithecus/artificer/types"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func testClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

// readAll returns every record ordered by seq. Records of one snapshot
// are spread over one file per partition.
func readAll(t *testing.T, ds lode.Dataset) []map[string]any {
	t.Helper()
	snaps, err := ds.Snapshots(t.Context())
	if err != nil {
		t.Fatalf("Snapshots failed: %v", err)
	}
	var out []map[string]any
	for _, snap := range snaps {
		data, err := ds.Read(t.Context(), snap.ID)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				t.Fatalf("record type = %T, want map[string]any", item)
			}
			out = append(out, record)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return toFloat(out[a]["seq"]) < toFloat(out[b]["seq"])
	})
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func newTestJournal(t *testing.T, opts ...Option) (*Journal, lode.StoreFactory) {
	t.Helper()
	factory := sharedFactory(lode.NewMemory())
	j, err := New(Config{SessionID: "sess-1"}, factory, append([]Option{WithClock(testClock())}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return j, factory
}

func TestJournal_WritesTransitionsOnClose(t *testing.T) {
	j, factory := newTestJournal(t)
	art := types.Artifact{ID: "app", Title: "App"}
	code := 0

	j.ArtifactChanged(art, true)
	j.ActionChanged(types.ActionState{
		ID:         "file_1",
		ArtifactID: "app",
		Action:     types.Action{Type: types.ActionTypeFile, FilePath: "index.js", Content: "console.log(1)"},
		Status:     types.ActionComplete,
	})
	j.ActionChanged(types.ActionState{
		ID:         "shell_1",
		ArtifactID: "app",
		Action:     types.Action{Type: types.ActionTypeShell, Content: "node index.js"},
		Status:     types.ActionComplete,
		ExitCode:   &code,
	})
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ds, err := NewDataset("", factory)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	records := readAll(t, ds)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	var kinds []string
	for _, r := range records {
		kinds = append(kinds, r["record_kind"].(string))
		if r["session_id"] != "sess-1" || r["day"] != "2026-10-18" {
			t.Errorf("missing partition values: %v", r)
		}
	}
	if got := strings.Join(kinds, ","); got != "artifact,action,action" {
		t.Errorf("record kinds = %s", got)
	}

	file := records[1]
	if file["file_path"] != "index.js" || file["status"] != "complete" {
		t.Errorf("unexpected file record: %v", file)
	}
	if _, ok := file["content"]; ok {
		t.Error("file content must not be journaled")
	}
	shell := records[2]
	if shell["command"] != "node index.js" {
		t.Errorf("unexpected shell record: %v", shell)
	}
	if n := toFloat(shell["exit_code"]); n != 0 {
		t.Errorf("exit_code = %v", shell["exit_code"])
	}
}

func TestJournal_ArtifactCloseFlushesInBackground(t *testing.T) {
	c := metrics.NewCollector("batched", "memory", "memory", "sess-1")
	j, _ := newTestJournal(t, WithCollector(c))
	defer func() { _ = j.Close() }()

	art := types.Artifact{ID: "app"}
	j.ArtifactChanged(art, true)
	j.ArtifactChanged(art, false)

	deadline := time.Now().Add(5 * time.Second)
	for c.Snapshot().JournalWriteSuccess == 0 {
		if time.Now().After(deadline) {
			t.Fatal("artifact close did not trigger a flush")
		}
		time.Sleep(5 * time.Millisecond)
	}

	records := readAll(t, j.Dataset())
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
}

func TestJournal_WriteSummary(t *testing.T) {
	j, _ := newTestJournal(t)
	defer func() { _ = j.Close() }()

	err := j.WriteSummary(t.Context(), SessionSummary{
		Outcome:    "success",
		Actions:    4,
		DurationMs: 1200,
		Metrics:    map[string]any{"chunks_received": 12},
	})
	if err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}

	records := readAll(t, j.Dataset())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r["record_kind"] != RecordKindSession || r["outcome"] != "success" {
		t.Errorf("unexpected summary: %v", r)
	}
	if r["contract_version"] != types.ContractVersion {
		t.Errorf("contract_version = %v", r["contract_version"])
	}
}

func TestJournal_EmptyFlushWritesNothing(t *testing.T) {
	j, _ := newTestJournal(t)
	if err := j.Flush(t.Context()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := len(readAll(t, j.Dataset())); got != 0 {
		t.Errorf("expected no records, got %d", got)
	}
}

func TestJournal_CloseIsIdempotent(t *testing.T) {
	j, _ := newTestJournal(t)
	if err := j.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

// flakyStore fails Put with putErr while it is set.
type flakyStore struct {
	lode.Store

	mu     sync.Mutex
	putErr error
}

func (s *flakyStore) setPutErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

func (s *flakyStore) Put(ctx context.Context, path string, r io.Reader) error {
	s.mu.Lock()
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, path, r)
}

func TestJournal_FailedWriteKeepsRecords(t *testing.T) {
	store := &flakyStore{Store: lode.NewMemory()}
	store.setPutErr(errors.New("write /journal: no space left on device"))
	c := metrics.NewCollector("strict", "memory", "memory", "sess-1")

	j, err := New(Config{SessionID: "sess-1"}, sharedFactory(store), WithCollector(c), WithClock(testClock()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = j.Close() }()

	j.ActionChanged(types.ActionState{ID: "file_1", Action: types.Action{Type: types.ActionTypeFile}, Status: types.ActionPending})

	err = j.Flush(t.Context())
	if !errors.Is(err, ErrDiskFull) {
		t.Fatalf("expected ErrDiskFull, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "write" {
		t.Errorf("expected write StorageError, got %v", err)
	}

	store.setPutErr(nil)
	if err := j.Flush(t.Context()); err != nil {
		t.Fatalf("retry Flush failed: %v", err)
	}
	if got := len(readAll(t, j.Dataset())); got != 1 {
		t.Errorf("expected retried record, got %d", got)
	}

	snap := c.Snapshot()
	if snap.JournalWriteFailure != 1 || snap.JournalWriteSuccess != 1 {
		t.Errorf("unexpected write counters: %+v", snap)
	}
}

func TestDeriveDay(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*60*60)
	got := DeriveDay(time.Date(2026, 10, 18, 20, 0, 0, 0, loc))
	if got != "2026-10-19" {
		t.Errorf("DeriveDay = %q, want 2026-10-19", got)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/journal", "bucket", "journal"},
		{"bucket/a/b", "bucket", "a/b"},
		{"s3://bucket/a", "bucket", "a"},
	}
	for _, tt := range tests {
		bucket, prefix := ParseS3Path(tt.in)
		if bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, bucket, prefix)
		}
	}
}

func TestS3Config_Validate(t *testing.T) {
	cfg := S3Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty bucket")
	}
	cfg.Bucket = "b"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
