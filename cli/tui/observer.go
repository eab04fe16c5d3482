package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/artificer/observer"
	"github.com/justapithecus/artificer/types"
)

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer forwards session notifications to the live view.
type Observer struct {
	sender Sender
}

// NewObserver creates an observer sending to s.
func NewObserver(s Sender) *Observer {
	return &Observer{sender: s}
}

func (o *Observer) AppendTerminalOutput(text string) {
	o.sender.Send(terminalMsg{text: text})
}

// SetFileTree reports the number of files only.
func (o *Observer) SetFileTree(nodes []types.FileNode) {
	files := 0
	for _, n := range nodes {
		if !n.IsDir {
			files++
		}
	}
	o.sender.Send(fileTreeMsg{files: files})
}

func (o *Observer) SetArtifactRunning(artifactID string, running bool) {
	o.sender.Send(artifactRunMsg{id: artifactID, running: running})
}

func (o *Observer) SetArtifactError(artifactID, message string) {
	o.sender.Send(artifactErrMsg{id: artifactID, message: message})
}

func (o *Observer) SetPreviewURL(url string) {
	o.sender.Send(previewMsg{url: url})
}

func (o *Observer) SetSandboxReady(ready bool) {
	o.sender.Send(sandboxReadyMsg{ready: ready})
}

func (o *Observer) ActionChanged(state types.ActionState) {
	o.sender.Send(actionMsg{state: state})
}

func (o *Observer) ArtifactChanged(artifact types.Artifact, open bool) {
	o.sender.Send(artifactOpenMsg{artifact: artifact, open: open})
}

var _ observer.Observer = (*Observer)(nil)
