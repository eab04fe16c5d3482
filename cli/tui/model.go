package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/artificer/types"
)

// maxTerminalBytes caps the terminal output kept in the view.
const maxTerminalBytes = 64 * 1024

// Messages sent by Observer.
type (
	terminalMsg     struct{ text string }
	fileTreeMsg     struct{ files int }
	previewMsg      struct{ url string }
	sandboxReadyMsg struct{ ready bool }
	actionMsg       struct{ state types.ActionState }
)

type artifactRunMsg struct {
	id      string
	running bool
}

type artifactErrMsg struct {
	id      string
	message string
}

type artifactOpenMsg struct {
	artifact types.Artifact
	open     bool
}

// DoneMsg ends the view with the session outcome.
type DoneMsg struct {
	Outcome string
	Summary string
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type artifactView struct {
	artifact types.Artifact
	closed   bool
	running  bool
	errors   []string
	actions  []string
}

// SessionModel is a Bubble Tea model for a live session.
type SessionModel struct {
	sessionID    string
	sandboxReady bool
	previewURL   string
	files        int

	artifactOrder []string
	artifacts     map[string]*artifactView
	actions       map[string]types.ActionState
	loose         []string

	terminal string
	viewport viewport.Model
	spinner  spinner.Model

	onQuit   func()
	done     *DoneMsg
	quitting bool
	width    int
}

// NewSessionModel creates a session model. onQuit is called once when
// the user quits before the session ends.
func NewSessionModel(sessionID string, onQuit func()) SessionModel {
	return SessionModel{
		sessionID: sessionID,
		artifacts: make(map[string]*artifactView),
		actions:   make(map[string]types.ActionState),
		viewport:  viewport.New(80, 8),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(WarningStyle)),
		onQuit:    onQuit,
		width:     80,
	}
}

// Init implements tea.Model.
func (m SessionModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *SessionModel) artifact(id string) *artifactView {
	a, ok := m.artifacts[id]
	if !ok {
		a = &artifactView{artifact: types.Artifact{ID: id}}
		m.artifacts[id] = a
		m.artifactOrder = append(m.artifactOrder, id)
	}
	return a
}

// Update implements tea.Model.
func (m SessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = max(msg.Width-4, 10)
		m.viewport.Height = max(msg.Height/3, 3)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			if m.done == nil && m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case terminalMsg:
		m.terminal += msg.text
		if len(m.terminal) > maxTerminalBytes {
			m.terminal = m.terminal[len(m.terminal)-maxTerminalBytes/2:]
		}
		m.viewport.SetContent(m.terminal)
		m.viewport.GotoBottom()

	case fileTreeMsg:
		m.files = msg.files
	case artifactRunMsg:
		m.artifact(msg.id).running = msg.running
	case artifactErrMsg:
		a := m.artifact(msg.id)
		a.errors = append(a.errors, msg.message)
	case previewMsg:
		m.previewURL = msg.url
	case sandboxReadyMsg:
		m.sandboxReady = msg.ready
	case artifactOpenMsg:
		a := m.artifact(msg.artifact.ID)
		a.artifact = msg.artifact
		a.closed = !msg.open

	case actionMsg:
		st := msg.state
		if _, seen := m.actions[st.ID]; !seen {
			if st.ArtifactID == "" {
				m.loose = append(m.loose, st.ID)
			} else {
				a := m.artifact(st.ArtifactID)
				a.actions = append(a.actions, st.ID)
			}
		}
		m.actions[st.ID] = st

	case DoneMsg:
		m.done = &msg
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m SessionModel) View() string {
	if m.quitting && m.done == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("artificer " + m.sessionID))
	b.WriteString("\n")

	sandbox := WarningStyle.Render(m.spinner.View() + " booting")
	if m.sandboxReady {
		sandbox = SuccessStyle.Render("ready")
	}
	b.WriteString(LabelStyle.Render("sandbox") + sandbox + "\n")
	b.WriteString(LabelStyle.Render("files") + ValueStyle.Render(fmt.Sprint(m.files)) + "\n")
	if m.previewURL != "" {
		b.WriteString(LabelStyle.Render("preview") + LinkStyle.Render(m.previewURL) + "\n")
	}
	b.WriteString("\n")

	for _, id := range m.artifactOrder {
		a := m.artifacts[id]
		title := a.artifact.Title
		if title == "" {
			title = id
		}
		marker := ""
		if a.running {
			marker = " " + m.spinner.View()
		}
		b.WriteString(TitleStyle.Render(title) + marker + "\n")
		for _, actionID := range a.actions {
			b.WriteString("  " + m.renderAction(m.actions[actionID]) + "\n")
		}
		for _, e := range a.errors {
			b.WriteString("  " + ErrorStyle.Render(e) + "\n")
		}
	}
	for _, actionID := range m.loose {
		b.WriteString(m.renderAction(m.actions[actionID]) + "\n")
	}

	if m.terminal != "" {
		b.WriteString(TerminalStyle.Render(m.viewport.View()) + "\n")
	}

	if m.done != nil {
		style := SuccessStyle
		if m.done.Outcome != "success" {
			style = ErrorStyle
		}
		b.WriteString(style.Render(m.done.Summary) + "\n")
		return b.String()
	}
	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to abort"))
	return b.String()
}

func (m SessionModel) renderAction(st types.ActionState) string {
	target := st.Action.FilePath
	if st.Action.Type == types.ActionTypeShell {
		target = "$ " + st.Action.Content
	}
	line := fmt.Sprintf("%s %s", statusIcon(st.Status), target)
	if st.Status == types.ActionFailed && st.Error != "" {
		line += " (" + st.Error + ")"
	}
	return StatusStyle(st.Status).Render(line)
}
