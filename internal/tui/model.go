// Package tui provides the terminal review screen for inboxsweep.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/session"
)

// flashDuration is how long a notification stays in the status line.
const flashDuration = 4 * time.Second

// Sessions hands out one review controller per mode. *session.Registry
// implements it.
type Sessions interface {
	Get(mode mail.Mode) (*session.Controller, error)
	Dispose(mode mail.Mode) bool
}

// BodyFetcher loads a full message for the detail view.
type BodyFetcher interface {
	GetMessageBody(ctx context.Context, id string) (*gateway.Body, error)
}

// Options configures the TUI.
type Options struct {
	Account string
	Mode    mail.Mode // initial mode, default delete
	Version string
	Events  *Events // may be nil; the view then refreshes only after its own actions
	Logger  *slog.Logger
	Now     func() time.Time
}

// modalType represents the type of modal dialog.
type modalType int

const (
	modalNone modalType = iota
	modalProcessConfirm
	modalQuitConfirm
)

// Model is the review TUI model following the Elm architecture.
type Model struct {
	sessions Sessions
	bodies   BodyFetcher
	events   *Events
	logger   *slog.Logger
	now      func() time.Time

	account string
	version string

	mode mail.Mode
	ctrl *session.Controller
	view session.View

	cursor int
	modal  modalType

	// Detail view
	detail        *gateway.Body
	detailErr     error
	detailLoading bool
	detailLines   []string
	detailScroll  int
	detailID      string

	flash      string
	flashErr   bool
	flashUntil time.Time

	keys    keyMap
	help    help.Model
	spinner spinner.Model

	width    int
	height   int
	quitting bool
}

// New creates the review model.
func New(sessions Sessions, bodies BodyFetcher, opts Options) Model {
	mode := opts.Mode
	if mode == "" {
		mode = mail.ModeDelete
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		sessions: sessions,
		bodies:   bodies,
		events:   opts.Events,
		logger:   logger,
		now:      now,
		account:  opts.Account,
		version:  opts.Version,
		mode:     mode,
		keys:     defaultKeyMap(),
		help:     help.New(),
		spinner:  sp,
		width:    80,
		height:   24,
	}
}

// Run starts the TUI and blocks until the user quits. Every session is
// disposed on exit.
func Run(ctx context.Context, sessions Sessions, bodies BodyFetcher, opts Options) error {
	m := New(sessions, bodies, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	for _, mode := range mail.Modes {
		sessions.Dispose(mode)
	}
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.events.wait(), func() tea.Msg {
		return openModeMsg{mode: m.mode}
	})
}

// openModeMsg asks the model to open the session for a mode.
type openModeMsg struct {
	mode mail.Mode
}

// initDoneMsg is sent when a controller finished loading its first page.
type initDoneMsg struct {
	mode mail.Mode
	err  error
}

// processDoneMsg is sent when a commit returns.
type processDoneMsg struct {
	mode mail.Mode
	err  error
}

// bodyLoadedMsg is sent when a message body has been fetched.
type bodyLoadedMsg struct {
	id   string
	body *gateway.Body
	err  error
}

// flashExpiredMsg clears the status line once its deadline has passed.
type flashExpiredMsg struct{}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case m.modal != modalNone:
			return m.handleModalKeys(msg)
		case m.detail != nil || m.detailLoading || m.detailErr != nil:
			return m.handleDetailKeys(msg)
		default:
			return m.handleReviewKeys(msg)
		}

	case tea.WindowSizeMsg:
		m.width = max(msg.Width, 0)
		m.height = max(msg.Height, 0)
		m.help.Width = m.width
		if m.detail != nil {
			m.detailLines = m.renderDetailLines()
			m.detailScroll = min(m.detailScroll, m.maxDetailScroll())
		}
		return m, nil

	case openModeMsg:
		return m.open(msg.mode)

	case initDoneMsg:
		if msg.mode != m.mode {
			return m, nil
		}
		if msg.err != nil {
			m.logger.Warn("failed to load candidates", "mode", msg.mode, "error", msg.err)
		}
		m.refresh()
		return m, nil

	case processDoneMsg:
		if msg.mode != m.mode {
			return m, nil
		}
		m.refresh()
		// With an event bridge the controller's own notification reports
		// the outcome.
		if msg.err != nil && m.events == nil {
			m.setFlash(msg.err.Error(), true)
		}
		return m, nil

	case changedMsg:
		m.refresh()
		return m, m.events.wait()

	case notifyMsg:
		if msg.n.Mode == m.mode {
			m.setFlash(msg.n.Message, msg.n.Level == session.LevelError)
		}
		m.refresh()
		return m, tea.Batch(m.events.wait(), m.flashTimer())

	case flashExpiredMsg:
		if !m.flashUntil.IsZero() && !m.now().Before(m.flashUntil) {
			m.flash = ""
			m.flashErr = false
		}
		return m, nil

	case bodyLoadedMsg:
		if msg.id != m.detailID || !m.detailLoading {
			return m, nil
		}
		m.detailLoading = false
		m.detail = msg.body
		m.detailErr = msg.err
		m.detailScroll = 0
		if msg.body != nil {
			m.detailLines = m.renderDetailLines()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// open makes mode the active review and starts loading its first page.
func (m Model) open(mode mail.Mode) (tea.Model, tea.Cmd) {
	ctrl, err := m.sessions.Get(mode)
	if err != nil {
		m.setFlash(err.Error(), true)
		return m, nil
	}
	m.mode = mode
	m.ctrl = ctrl
	m.cursor = 0
	m.refresh()
	return m, func() tea.Msg {
		return initDoneMsg{mode: mode, err: ctrl.Initialize(context.Background())}
	}
}

// switchMode leaves the current mode, discarding its session, and opens the
// next one.
func (m Model) switchMode(mode mail.Mode) (tea.Model, tea.Cmd) {
	if m.view.IsProcessing {
		m.setFlash("Wait for the current commit to finish", true)
		return m, nil
	}
	m.sessions.Dispose(m.mode)
	m.ctrl = nil
	m.view = session.View{Mode: mode}
	m.flash = ""
	return m.open(mode)
}

// process commits the selection in the background. The controller advances
// to the next batch immediately; the view follows through refresh.
func (m Model) process() (tea.Model, tea.Cmd) {
	ctrl, mode := m.ctrl, m.mode
	if ctrl == nil {
		return m, nil
	}
	cmd := func() tea.Msg {
		return processDoneMsg{mode: mode, err: ctrl.ProcessSelected(context.Background())}
	}
	m.view.IsProcessing = true
	return m, cmd
}

func (m Model) startOver() (tea.Model, tea.Cmd) {
	ctrl, mode := m.ctrl, m.mode
	m.cursor = 0
	m.flash = ""
	return m, func() tea.Msg {
		return initDoneMsg{mode: mode, err: ctrl.StartOver(context.Background())}
	}
}

func (m Model) openDetail() (tea.Model, tea.Cmd) {
	id, ok := m.cursorID()
	if !ok || m.bodies == nil {
		return m, nil
	}
	m.detailID = id
	m.detailLoading = true
	m.detail = nil
	m.detailErr = nil
	bodies := m.bodies
	return m, func() tea.Msg {
		body, err := bodies.GetMessageBody(context.Background(), id)
		return bodyLoadedMsg{id: id, body: body, err: err}
	}
}

// refresh copies the controller state into the model and clamps the cursor.
func (m *Model) refresh() {
	if m.ctrl == nil {
		return
	}
	m.view = m.ctrl.Snapshot()
	if m.cursor >= len(m.view.CurrentBatch) {
		m.cursor = max(len(m.view.CurrentBatch)-1, 0)
	}
}

func (m *Model) setFlash(text string, isErr bool) {
	m.flash = text
	m.flashErr = isErr
	m.flashUntil = m.now().Add(flashDuration)
}

func (m Model) flashTimer() tea.Cmd {
	return tea.Tick(flashDuration, func(time.Time) tea.Msg { return flashExpiredMsg{} })
}

func (m Model) cursorID() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.view.CurrentBatch) {
		return "", false
	}
	return m.view.CurrentBatch[m.cursor].ID, true
}

func nextMode(mode mail.Mode) mail.Mode {
	for i, md := range mail.Modes {
		if md == mode {
			return mail.Modes[(i+1)%len(mail.Modes)]
		}
	}
	return mail.ModeDelete
}

// confirmPrompt describes the pending commit.
func (m Model) confirmPrompt() string {
	n := len(m.view.SelectedIDs)
	noun := "emails"
	if n == 1 {
		noun = "email"
	}
	switch m.mode {
	case mail.ModeArchive:
		return fmt.Sprintf("Archive %d %s?", n, noun)
	case mail.ModeUnsubscribe:
		return fmt.Sprintf("Unsubscribe from the senders of %d %s?", n, noun)
	default:
		return fmt.Sprintf("Delete %d %s?", n, noun)
	}
}
