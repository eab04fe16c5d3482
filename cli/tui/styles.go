// Package tui provides the Bubble Tea live view of a session.
//
// The view is an observer: engine and session callbacks are turned into
// messages and sent to the running program. It never drives the session
// except to cancel it when the user quits.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/artificer/types"
)

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#6D28D9", Dark: "#A78BFA"}
	colorOK     = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	colorBusy   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	colorBad    = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	colorLink   = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
)

// Styles shared by the live view.
var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	LabelStyle   = lipgloss.NewStyle().Foreground(colorDim).Width(10)
	ValueStyle   = lipgloss.NewStyle()
	SuccessStyle = lipgloss.NewStyle().Foreground(colorOK)
	WarningStyle = lipgloss.NewStyle().Foreground(colorBusy)
	ErrorStyle   = lipgloss.NewStyle().Foreground(colorBad)
	LinkStyle    = lipgloss.NewStyle().Underline(true).Foreground(colorLink)
	HelpStyle    = lipgloss.NewStyle().Foreground(colorDim).MarginTop(1)

	// TerminalStyle frames the sandbox output pane.
	TerminalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)

type statusLook struct {
	icon  string
	style lipgloss.Style
}

var statusLooks = map[types.ActionStatus]statusLook{
	types.ActionPending:  {"·", lipgloss.NewStyle().Foreground(colorDim)},
	types.ActionRunning:  {"…", WarningStyle},
	types.ActionComplete: {"✓", SuccessStyle},
	types.ActionFailed:   {"✗", ErrorStyle},
	types.ActionAborted:  {"⊘", lipgloss.NewStyle().Foreground(colorDim)},
}

// StatusStyle returns the style of an action status.
func StatusStyle(status types.ActionStatus) lipgloss.Style {
	if look, found := statusLooks[status]; found {
		return look.style
	}
	return ValueStyle
}

// statusIcon is the one-cell marker shown before an action.
func statusIcon(status types.ActionStatus) string {
	if look, found := statusLooks[status]; found {
		return look.icon
	}
	return "·"
}
