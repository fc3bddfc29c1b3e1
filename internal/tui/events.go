package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wesm/inboxsweep/internal/session"
)

// changedMsg reports that the active controller's state moved, possibly from
// a background prefetch.
type changedMsg struct{}

// notifyMsg carries a commit notification.
type notifyMsg struct {
	n session.Notification
}

// Events forwards controller callbacks into the bubbletea program. Pass
// Changed to session.WithOnChange and the Events itself to
// session.WithNotifier. Sends never block the controller.
type Events struct {
	ch chan tea.Msg
}

// NewEvents creates an event bridge.
func NewEvents() *Events {
	return &Events{ch: make(chan tea.Msg, 64)}
}

// Changed signals a state change. Redundant changes are dropped when the
// program is behind.
func (e *Events) Changed() {
	select {
	case e.ch <- changedMsg{}:
	default:
	}
}

// Notify implements session.Notifier.
func (e *Events) Notify(n session.Notification) {
	select {
	case e.ch <- notifyMsg{n: n}:
	default:
	}
}

// wait returns a command that delivers the next event. It must be re-armed
// after every delivery.
func (e *Events) wait() tea.Cmd {
	if e == nil {
		return nil
	}
	return func() tea.Msg {
		return <-e.ch
	}
}

var _ session.Notifier = (*Events)(nil)
