package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Live is a running session view.
type Live struct {
	program *tea.Program
	done    chan error
}

// Start runs the live view on its own goroutine. onQuit is called if the
// user quits before Finish.
func Start(sessionID string, onQuit func(), opts ...tea.ProgramOption) *Live {
	l := &Live{
		program: tea.NewProgram(NewSessionModel(sessionID, onQuit), opts...),
		done:    make(chan error, 1),
	}
	go func() {
		_, err := l.program.Run()
		l.done <- err
	}()
	return l
}

// Observer returns an observer feeding this view.
func (l *Live) Observer() *Observer {
	return NewObserver(l.program)
}

// Finish shows the outcome and waits for the view to exit.
func (l *Live) Finish(outcome, summary string) error {
	l.program.Send(DoneMsg{Outcome: outcome, Summary: summary})
	return <-l.done
}
