// Package observer defines the status hooks the engine and the session
// call while actions run, and a few reusable implementations.
package observer

import (
	"sync"

	"github.com/justapithecus/artificer/types"
)

// Observer mirrors session progress, typically for a UI.
//
// Methods are called from engine goroutines, possibly concurrently while a
// file batch runs. Implementations must be safe for concurrent use and must
// not block: the engine never waits on an observer for anything but the
// call itself.
type Observer interface {
	// AppendTerminalOutput receives shell process output as it arrives.
	AppendTerminalOutput(text string)
	// SetFileTree receives the sandbox file tree after it changed.
	SetFileTree(nodes []types.FileNode)
	// SetArtifactRunning reports whether an artifact has actions in flight.
	SetArtifactRunning(artifactID string, running bool)
	// SetArtifactError reports an action failure within an artifact.
	SetArtifactError(artifactID, message string)
	// SetPreviewURL reports a server reachable inside the sandbox.
	SetPreviewURL(url string)
	// SetSandboxReady reports the outcome of sandbox initialization.
	SetSandboxReady(ready bool)
	// ActionChanged receives every action state transition.
	ActionChanged(state types.ActionState)
	// ArtifactChanged reports an artifact opening or closing in the stream.
	ArtifactChanged(artifact types.Artifact, open bool)
}

// Nop ignores every call. Embed it to implement a subset of Observer.
type Nop struct{}

func (Nop) AppendTerminalOutput(string)          {}
func (Nop) SetFileTree([]types.FileNode)         {}
func (Nop) SetArtifactRunning(string, bool)      {}
func (Nop) SetArtifactError(string, string)      {}
func (Nop) SetPreviewURL(string)                 {}
func (Nop) SetSandboxReady(bool)                 {}
func (Nop) ActionChanged(types.ActionState)      {}
func (Nop) ArtifactChanged(types.Artifact, bool) {}

// Multi fans every call out to each observer in order.
type Multi []Observer

// NewMulti drops nil entries and returns a Multi.
func NewMulti(observers ...Observer) Multi {
	out := make(Multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m Multi) AppendTerminalOutput(text string) {
	for _, o := range m {
		o.AppendTerminalOutput(text)
	}
}

func (m Multi) SetFileTree(nodes []types.FileNode) {
	for _, o := range m {
		o.SetFileTree(nodes)
	}
}

func (m Multi) SetArtifactRunning(artifactID string, running bool) {
	for _, o := range m {
		o.SetArtifactRunning(artifactID, running)
	}
}

func (m Multi) SetArtifactError(artifactID, message string) {
	for _, o := range m {
		o.SetArtifactError(artifactID, message)
	}
}

func (m Multi) SetPreviewURL(url string) {
	for _, o := range m {
		o.SetPreviewURL(url)
	}
}

func (m Multi) SetSandboxReady(ready bool) {
	for _, o := range m {
		o.SetSandboxReady(ready)
	}
}

func (m Multi) ActionChanged(state types.ActionState) {
	for _, o := range m {
		o.ActionChanged(state)
	}
}

func (m Multi) ArtifactChanged(artifact types.Artifact, open bool) {
	for _, o := range m {
		o.ArtifactChanged(artifact, open)
	}
}

// Recorder keeps every call in memory for later inspection.
type Recorder struct {
	mu sync.Mutex

	terminal        []string
	fileTrees       [][]types.FileNode
	artifactRunning []ArtifactRunning
	artifactErrors  map[string][]string
	previewURLs     []string
	sandboxReady    []bool
	actions         []types.ActionState
	artifactChanges []ArtifactChange
}

// ArtifactRunning is one recorded SetArtifactRunning call.
type ArtifactRunning struct {
	ArtifactID string
	Running    bool
}

// ArtifactChange is one recorded ArtifactChanged call.
type ArtifactChange struct {
	Artifact types.Artifact
	Open     bool
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{artifactErrors: make(map[string][]string)}
}

func (r *Recorder) AppendTerminalOutput(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = append(r.terminal, text)
}

func (r *Recorder) SetFileTree(nodes []types.FileNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileTrees = append(r.fileTrees, append([]types.FileNode(nil), nodes...))
}

func (r *Recorder) SetArtifactRunning(artifactID string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifactRunning = append(r.artifactRunning, ArtifactRunning{artifactID, running})
}

func (r *Recorder) SetArtifactError(artifactID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifactErrors[artifactID] = append(r.artifactErrors[artifactID], message)
}

func (r *Recorder) SetPreviewURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previewURLs = append(r.previewURLs, url)
}

func (r *Recorder) SetSandboxReady(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sandboxReady = append(r.sandboxReady, ready)
}

func (r *Recorder) ActionChanged(state types.ActionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, state)
}

func (r *Recorder) ArtifactChanged(artifact types.Artifact, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifactChanges = append(r.artifactChanges, ArtifactChange{artifact, open})
}

// Terminal returns all terminal output concatenated.
func (r *Recorder) Terminal() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, s := range r.terminal {
		n += len(s)
	}
	b := make([]byte, 0, n)
	for _, s := range r.terminal {
		b = append(b, s...)
	}
	return string(b)
}

// LastFileTree returns the most recent tree, or nil.
func (r *Recorder) LastFileTree() []types.FileNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fileTrees) == 0 {
		return nil
	}
	return r.fileTrees[len(r.fileTrees)-1]
}

// ArtifactRunningCalls returns the SetArtifactRunning calls in order.
func (r *Recorder) ArtifactRunningCalls() []ArtifactRunning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ArtifactRunning(nil), r.artifactRunning...)
}

// ArtifactErrors returns the error messages reported for an artifact.
func (r *Recorder) ArtifactErrors(artifactID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.artifactErrors[artifactID]...)
}

// PreviewURLs returns the reported preview URLs in order.
func (r *Recorder) PreviewURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.previewURLs...)
}

// SandboxReady returns the SetSandboxReady calls in order.
func (r *Recorder) SandboxReady() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.sandboxReady...)
}

// Actions returns every recorded transition in order.
func (r *Recorder) Actions() []types.ActionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ActionState(nil), r.actions...)
}

// Transitions returns the statuses one action went through, in order.
func (r *Recorder) Transitions(actionID string) []types.ActionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ActionStatus
	for _, s := range r.actions {
		if s.ID == actionID {
			out = append(out, s.Status)
		}
	}
	return out
}

// ArtifactChanges returns the ArtifactChanged calls in order.
func (r *Recorder) ArtifactChanges() []ArtifactChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ArtifactChange(nil), r.artifactChanges...)
}
