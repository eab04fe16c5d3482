// Package types defines the core domain types shared by the parser, the
// engine and the calling layers.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"time"
)

// ActionType discriminates the two kinds of action the stream can carry.
type ActionType string

// Action type constants, as they appear in the type attribute of a
// <boltAction> tag.
const (
	ActionTypeFile  ActionType = "file"
	ActionTypeShell ActionType = "shell"
)

// Valid returns true if t is a known action type.
func (t ActionType) Valid() bool {
	return t == ActionTypeFile || t == ActionTypeShell
}

// ParseActionType converts a raw attribute value into an ActionType.
func ParseActionType(s string) (ActionType, error) {
	t := ActionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return t, nil
}

// Action is a single file-write or shell-command instruction extracted from
// the stream.
type Action struct {
	// Type is file or shell.
	Type ActionType `json:"type" yaml:"type" msgpack:"type"`
	// FilePath is the target path for file actions. Empty for shell actions.
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty" msgpack:"file_path,omitempty"`
	// Content is the file body or the full shell command line.
	Content string `json:"content" yaml:"content" msgpack:"content"`
}

// ActionStatus is the lifecycle state of a scheduled action.
type ActionStatus string

// Action status constants.
const (
	ActionPending  ActionStatus = "pending"
	ActionRunning  ActionStatus = "running"
	ActionComplete ActionStatus = "complete"
	ActionAborted  ActionStatus = "aborted"
	ActionFailed   ActionStatus = "failed"
)

// IsTerminal returns true if no transition out of s is allowed.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionComplete || s == ActionAborted || s == ActionFailed
}

// CanTransition reports whether moving from s to next respects the
// pending -> running -> {complete|aborted|failed} state machine.
// A pending action may be aborted or failed without ever running.
func (s ActionStatus) CanTransition(next ActionStatus) bool {
	switch s {
	case ActionPending:
		return next == ActionRunning || next == ActionAborted || next == ActionFailed
	case ActionRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// ActionState is the engine's record of one registered action.
type ActionState struct {
	// ID is assigned by the engine at registration.
	ID string `json:"id" yaml:"id"`
	// ArtifactID is the enclosing artifact, empty for bare actions.
	ArtifactID string `json:"artifact_id,omitempty" yaml:"artifact_id,omitempty"`
	// Action is the instruction as it was submitted.
	Action Action `json:"action" yaml:"action"`
	// Status is the current lifecycle state.
	Status ActionStatus `json:"status" yaml:"status"`
	// Error carries the failure message when Status is failed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	// ExitCode is the process exit code for shell actions that ran to exit.
	ExitCode *int `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`

	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Artifact is a named grouping of actions delimited by <boltArtifact> tags.
type Artifact struct {
	ID    string `json:"id" yaml:"id" msgpack:"id"`
	Title string `json:"title" yaml:"title" msgpack:"title"`
}
