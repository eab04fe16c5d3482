package lode

import (
	"time"

	"github.com/justapithecus/artificer/types"
)

// RecordKind discriminator values. record_kind is also the last Hive
// partition key, so each kind lands in its own directory.
const (
	RecordKindAction   = "action"
	RecordKindArtifact = "artifact"
	RecordKindSession  = "session"
)

// partitionKeys is the Hive layout of the journal dataset.
var partitionKeys = []string{"session_id", "day", "record_kind"}

// DeriveDay computes the partition day from a session start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(start time.Time) string {
	return start.UTC().Format("2006-01-02")
}

// SessionSummary is the final record of a session.
type SessionSummary struct {
	Outcome    string
	Actions    int
	Failed     int
	DurationMs int64
	Metrics    map[string]any
}

// toActionRecordMap converts a transition to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any. File contents are
// never journaled; shell command lines are.
func toActionRecordMap(s types.ActionState, seq int64, ts time.Time, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind":      RecordKindAction,
		"contract_version": types.ContractVersion,
		"seq":              seq,
		"ts":               ts.UTC().Format(time.RFC3339Nano),
		"action_id":        s.ID,
		"action_type":      string(s.Action.Type),
		"status":           string(s.Status),
		"session_id":       cfg.SessionID,
		"day":              cfg.Day,
	}
	if s.ArtifactID != "" {
		m["artifact_id"] = s.ArtifactID
	}
	switch s.Action.Type {
	case types.ActionTypeFile:
		m["file_path"] = s.Action.FilePath
		m["bytes"] = len(s.Action.Content)
	case types.ActionTypeShell:
		m["command"] = s.Action.Content
	}
	if s.Error != "" {
		m["error"] = s.Error
	}
	if s.ExitCode != nil {
		m["exit_code"] = *s.ExitCode
	}
	return m
}

func toArtifactRecordMap(a types.Artifact, open bool, seq int64, ts time.Time, cfg Config) map[string]any {
	event := "close"
	if open {
		event = "open"
	}
	return map[string]any{
		"record_kind":      RecordKindArtifact,
		"contract_version": types.ContractVersion,
		"seq":              seq,
		"ts":               ts.UTC().Format(time.RFC3339Nano),
		"artifact_id":      a.ID,
		"title":            a.Title,
		"event":            event,
		"session_id":       cfg.SessionID,
		"day":              cfg.Day,
	}
}

func toSessionRecordMap(s SessionSummary, seq int64, ts time.Time, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind":      RecordKindSession,
		"contract_version": types.ContractVersion,
		"seq":              seq,
		"ts":               ts.UTC().Format(time.RFC3339Nano),
		"outcome":          s.Outcome,
		"actions":          s.Actions,
		"failed":           s.Failed,
		"duration_ms":      s.DurationMs,
		"session_id":       cfg.SessionID,
		"day":              cfg.Day,
	}
	if cfg.ConversationID != "" {
		m["conversation_id"] = cfg.ConversationID
	}
	if len(s.Metrics) > 0 {
		m["metrics"] = s.Metrics
	}
	return m
}
