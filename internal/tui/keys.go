package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// keyMap defines the review key bindings. It implements help.KeyMap.
type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Toggle     key.Binding
	SelectAll  key.Binding
	SelectNone key.Binding
	Process    key.Binding
	Skip       key.Binding
	StartOver  key.Binding
	Open       key.Binding
	NextMode   key.Binding
	Back       key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle:     key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle")),
		SelectAll:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "all")),
		SelectNone: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "none")),
		Process:    key.NewBinding(key.WithKeys("enter", "p"), key.WithHelp("enter", "process")),
		Skip:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip batch")),
		StartOver:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "start over")),
		Open:       key.NewBinding(key.WithKeys("o", "v"), key.WithHelp("o", "open")),
		NextMode:   key.NewBinding(key.WithKeys("tab", "m"), key.WithHelp("tab", "mode")),
		Back:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Process, k.Skip, k.Open, k.NextMode, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle, k.SelectAll, k.SelectNone},
		{k.Process, k.Skip, k.StartOver},
		{k.Open, k.Back, k.NextMode, k.Help, k.Quit},
	}
}

// handleGlobalKeys handles keys common to all views (quit, help).
// Returns (model, cmd, true) if the key was handled.
func (m Model) handleGlobalKeys(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch {
	case msg.String() == "ctrl+c":
		m.quitting = true
		return m, tea.Quit, true
	case key.Matches(msg, m.keys.Quit):
		if m.view.IsProcessing {
			m.modal = modalQuitConfirm
			return m, nil, true
		}
		m.quitting = true
		return m, tea.Quit, true
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil, true
	}
	return m, nil, false
}

// handleModalKeys handles keys while a confirmation is shown.
func (m Model) handleModalKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.modal {
	case modalProcessConfirm:
		switch msg.String() {
		case "y", "Y", "enter":
			m.modal = modalNone
			return m.process()
		case "n", "N", "esc", "q":
			m.modal = modalNone
		}
	case modalQuitConfirm:
		switch msg.String() {
		case "y", "Y":
			m.quitting = true
			return m, tea.Quit
		case "n", "N", "esc", "q":
			m.modal = modalNone
		}
	}
	return m, nil
}

// handleDetailKeys handles keys in the message body view.
func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m2, cmd, handled := m.handleGlobalKeys(msg); handled {
		return m2, cmd
	}
	switch {
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Open):
		m.detail = nil
		m.detailErr = nil
		m.detailScroll = 0
	case key.Matches(msg, m.keys.Up):
		if m.detailScroll > 0 {
			m.detailScroll--
		}
	case key.Matches(msg, m.keys.Down):
		if m.detailScroll < m.maxDetailScroll() {
			m.detailScroll++
		}
	case msg.String() == "pgdown":
		m.detailScroll = min(m.detailScroll+m.detailPageSize(), m.maxDetailScroll())
	case msg.String() == "pgup":
		m.detailScroll = max(m.detailScroll-m.detailPageSize(), 0)
	}
	return m, nil
}

// handleReviewKeys handles keys in the batch list.
func (m Model) handleReviewKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m2, cmd, handled := m.handleGlobalKeys(msg); handled {
		return m2, cmd
	}
	if m.ctrl == nil {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.view.CurrentBatch)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Toggle):
		if id, ok := m.cursorID(); ok {
			m.ctrl.ToggleSelection(id, !m.view.IsSelected(id))
			m.refresh()
		}
	case key.Matches(msg, m.keys.SelectAll):
		m.ctrl.SelectAll()
		m.refresh()
	case key.Matches(msg, m.keys.SelectNone):
		m.ctrl.DeselectAll()
		m.refresh()
	case key.Matches(msg, m.keys.Process):
		if len(m.view.SelectedIDs) > 0 && !m.view.IsProcessing {
			m.modal = modalProcessConfirm
		}
	case key.Matches(msg, m.keys.Skip):
		if err := m.ctrl.SkipBatch(); err != nil {
			m.setFlash(err.Error(), true)
		}
		m.refresh()
	case key.Matches(msg, m.keys.StartOver):
		return m.startOver()
	case key.Matches(msg, m.keys.Open):
		return m.openDetail()
	case key.Matches(msg, m.keys.NextMode):
		return m.switchMode(nextMode(m.mode))
	}
	return m, nil
}
