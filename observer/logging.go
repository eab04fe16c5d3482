package observer

import (
	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/types"
)

// Logging writes every hook call to a structured logger. Terminal output
// is logged at debug level, failures at warn, everything else at info.
type Logging struct {
	logger *log.Logger
}

// NewLogging creates a logging observer.
func NewLogging(logger *log.Logger) *Logging {
	return &Logging{logger: logger}
}

func (l *Logging) AppendTerminalOutput(text string) {
	l.logger.Debug("terminal output", map[string]any{"bytes": len(text)})
}

func (l *Logging) SetFileTree(nodes []types.FileNode) {
	l.logger.Debug("file tree updated", map[string]any{"entries": len(nodes)})
}

func (l *Logging) SetArtifactRunning(artifactID string, running bool) {
	l.logger.Info("artifact running", map[string]any{
		"artifact_id": artifactID,
		"running":     running,
	})
}

func (l *Logging) SetArtifactError(artifactID, message string) {
	l.logger.Warn("artifact error", map[string]any{
		"artifact_id": artifactID,
		"error":       message,
	})
}

func (l *Logging) SetPreviewURL(url string) {
	l.logger.Info("preview available", map[string]any{"url": url})
}

func (l *Logging) SetSandboxReady(ready bool) {
	l.logger.Info("sandbox ready", map[string]any{"ready": ready})
}

func (l *Logging) ActionChanged(state types.ActionState) {
	fields := map[string]any{
		"action_id": state.ID,
		"type":      string(state.Action.Type),
		"status":    string(state.Status),
	}
	if state.ArtifactID != "" {
		fields["artifact_id"] = state.ArtifactID
	}
	if state.Action.FilePath != "" {
		fields["file_path"] = state.Action.FilePath
	}
	if state.ExitCode != nil {
		fields["exit_code"] = *state.ExitCode
	}
	if state.Status == types.ActionFailed {
		fields["error"] = state.Error
		l.logger.Warn("action failed", fields)
		return
	}
	l.logger.Info("action "+string(state.Status), fields)
}

func (l *Logging) ArtifactChanged(artifact types.Artifact, open bool) {
	msg := "artifact closed"
	if open {
		msg = "artifact opened"
	}
	l.logger.Info(msg, map[string]any{
		"artifact_id": artifact.ID,
		"title":       artifact.Title,
	})
}
