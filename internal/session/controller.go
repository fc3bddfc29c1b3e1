// Package session implements the batched review state machine: a buffer of
// classified candidates fed by paginated listings, a fixed-size review batch
// with per-message selection, and optimistic bulk commits that roll back when
// the provider rejects them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/unsubscribe"
)

var (
	// ErrBusy is returned when a commit is requested while another one is
	// still outstanding.
	ErrBusy = errors.New("a commit is already in progress")

	// ErrClosed is returned by operations on a disposed controller.
	ErrClosed = errors.New("session closed")
)

// Provider is the mail backend a controller reads candidates from and
// commits actions to. *gateway.Gateway implements it.
type Provider interface {
	ListMessages(ctx context.Context, mode mail.Mode, pageToken string) (*gateway.Page, error)
	CommitDelete(ctx context.Context, ids []string) error
	CommitArchive(ctx context.Context, ids []string) error
	CommitUnsubscribe(ctx context.Context, items []unsubscribe.Item) unsubscribe.Result
}

// Controller owns the review state for one mode. All methods are safe for
// concurrent use; the mutex is never held across provider calls.
type Controller struct {
	mode      mail.Mode
	provider  Provider
	logger    *slog.Logger
	notifier  Notifier
	onChange  func()
	batchSize int

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	mu          sync.Mutex
	st          state
	cursor      string
	initialized bool
	loading     bool
	processing  bool
	err         error
	closed      bool
	gen         uint64
	tx          *Tx
	fetching    map[string]bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithNotifier sets the receiver of commit notifications.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithOnChange registers a callback invoked after every state change,
// including ones made by background prefetches.
func WithOnChange(fn func()) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithBatchSize overrides the review batch size.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// New creates a controller for mode. Call Initialize to load the first page.
func New(mode mail.Mode, provider Provider, opts ...Option) *Controller {
	c := &Controller{
		mode:      mode,
		provider:  provider,
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
		st:        newState(mode),
		fetching:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c
}

// Mode returns the mode the controller reviews.
func (c *Controller) Mode() mail.Mode {
	return c.mode
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Controller) notify(n Notification) {
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
}

// Initialize loads the first page, fills the buffer and selects the first
// batch. It is a no-op once the controller is initialized or loading.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.initialized || c.loading {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.err = nil
	gen := c.gen
	mode := c.mode
	c.mu.Unlock()
	c.changed()

	page, err := c.provider.ListMessages(ctx, mode, "")

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale initial page", "mode", mode)
		return nil
	}
	c.loading = false
	if err != nil {
		c.err = fmt.Errorf("list messages: %w", err)
		c.mu.Unlock()
		c.logger.Warn("initial listing failed", "mode", mode, "error", err)
		c.changed()
		return c.err
	}
	c.st.buffer = c.st.buffer[:0]
	c.st.merge(page.Messages)
	c.st.selectBatch(c.batchSize)
	c.cursor = page.NextPageToken
	c.initialized = true
	c.startPrefetchLocked()
	buffered := len(c.st.buffer)
	c.mu.Unlock()

	c.logger.Debug("session initialized", "mode", mode, "buffered", buffered, "more", page.NextPageToken != "")
	c.changed()
	return nil
}

// SelectAll selects every message in the current batch.
func (c *Controller) SelectAll() {
	c.mu.Lock()
	c.st.selectBatch(c.batchSize)
	c.mu.Unlock()
	c.changed()
}

// DeselectAll clears the selection.
func (c *Controller) DeselectAll() {
	c.mu.Lock()
	c.st.selected = idSet{}
	c.mu.Unlock()
	c.changed()
}

// ToggleSelection sets whether id is selected. Ids outside the current batch
// are ignored; the return value reports whether id was in the batch.
func (c *Controller) ToggleSelection(id string, on bool) bool {
	c.mu.Lock()
	found := false
	for _, m := range c.st.batch(c.batchSize) {
		if m.ID == id {
			found = true
			break
		}
	}
	if found {
		if on {
			c.st.selected.add(id)
		} else {
			delete(c.st.selected, id)
		}
	}
	c.mu.Unlock()
	if found {
		c.changed()
	}
	return found
}

// SkipBatch marks the whole current batch as skipped and moves on. In
// unsubscribe mode every sender in the batch is skipped too, purging their
// other messages from the buffer and from future pages.
func (c *Controller) SkipBatch() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.processing {
		c.mu.Unlock()
		return ErrBusy
	}
	batch := c.st.batch(c.batchSize)
	if len(batch) == 0 {
		c.mu.Unlock()
		return nil
	}
	ids := idSet{}
	ids.add(idsOf(batch)...)
	senders := senderSet(batch)

	c.st.skipped.add(idsOf(batch)...)
	c.st.removeIDs(ids)
	if c.mode == mail.ModeUnsubscribe {
		c.st.skipSenders(senders)
	}
	c.st.selectBatch(c.batchSize)
	c.startPrefetchLocked()
	c.mu.Unlock()

	c.logger.Debug("skipped batch", "mode", c.mode, "count", len(ids))
	c.changed()
	return nil
}

// ProcessSelected commits the selected messages of the current batch.
// Unselected messages in the batch are skipped. State advances to the next
// batch before the provider is called; if the provider fails, everything is
// restored and an error notification is sent. An empty selection is a no-op.
func (c *Controller) ProcessSelected(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.processing {
		c.mu.Unlock()
		return ErrBusy
	}
	mode := c.mode
	var selected, unselected []mail.ClassifiedMessage
	for _, m := range c.st.batch(c.batchSize) {
		if c.st.selected.has(m.ID) {
			selected = append(selected, m)
		} else {
			unselected = append(unselected, m)
		}
	}
	if len(selected) == 0 {
		c.mu.Unlock()
		return nil
	}

	tx := begin(&c.st)
	batchIDs := idSet{}
	batchIDs.add(idsOf(selected)...)
	batchIDs.add(idsOf(unselected)...)
	c.st.removeIDs(batchIDs)
	if mode == mail.ModeUnsubscribe && len(unselected) > 0 {
		c.st.skipSenders(senderSet(unselected))
	}
	c.st.processed.add(idsOf(selected)...)
	c.st.skipped.add(idsOf(unselected)...)
	c.st.stats.add(mode, len(selected))
	c.st.selectBatch(c.batchSize)

	c.tx = tx
	c.processing = true
	gen := c.gen
	c.startPrefetchLocked()
	c.mu.Unlock()
	c.changed()

	failed, err := c.commit(ctx, mode, selected)

	c.mu.Lock()
	if c.gen != gen {
		closed := c.closed
		c.mu.Unlock()
		c.logger.Debug("ignoring result of abandoned commit", "mode", mode, "error", err)
		if closed {
			return ErrClosed
		}
		return nil
	}
	c.tx = nil
	c.processing = false
	var n Notification
	if err != nil {
		tx.Rollback()
		n = failureNotification(mode, len(selected), err)
	} else {
		tx.Commit()
		n = successNotification(mode, len(selected), failed)
	}
	c.startPrefetchLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("commit failed, state restored", "mode", mode, "count", len(selected), "error", err)
	} else {
		c.logger.Info("commit succeeded", "mode", mode, "count", len(selected), "failed", failed)
	}
	c.notify(n)
	c.changed()
	if err != nil {
		return fmt.Errorf("%s messages: %w", mode, err)
	}
	return nil
}

// commit calls the provider operation for mode. For unsubscribe it returns
// the number of items that could not be dispatched; that is not an error.
func (c *Controller) commit(ctx context.Context, mode mail.Mode, msgs []mail.ClassifiedMessage) (int, error) {
	switch mode {
	case mail.ModeDelete:
		return 0, c.provider.CommitDelete(ctx, idsOf(msgs))
	case mail.ModeArchive:
		return 0, c.provider.CommitArchive(ctx, idsOf(msgs))
	case mail.ModeUnsubscribe:
		items := make([]unsubscribe.Item, len(msgs))
		for i := range msgs {
			items[i] = unsubscribe.Item{ID: msgs[i].ID, Target: msgs[i].Unsubscribe}
		}
		res := c.provider.CommitUnsubscribe(ctx, items)
		return len(res.Failed), nil
	default:
		return 0, fmt.Errorf("%w: %q", gateway.ErrUnknownMode, mode)
	}
}

// StartOver discards all session state, including stats and skip sets, and
// loads the first page again.
func (c *Controller) StartOver(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.resetLocked()
	c.mu.Unlock()
	c.logger.Debug("session reset", "mode", c.mode)
	return c.Initialize(ctx)
}

// resetLocked clears state and bumps the generation so results of in-flight
// listings and commits are ignored.
func (c *Controller) resetLocked() {
	c.gen++
	c.st = newState(c.mode)
	c.cursor = ""
	c.initialized = false
	c.loading = false
	c.processing = false
	c.err = nil
	c.tx = nil
	c.fetching = make(map[string]bool)
}

// Close disposes the controller. In-flight commits still reach the provider
// but their results are ignored; background prefetches are cancelled.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.closed = true
	c.mu.Unlock()
	c.bgCancel()
}

// Wait blocks until background prefetches have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// View is a read-only copy of the controller state for presentation.
type View struct {
	Mode         mail.Mode                `json:"mode"`
	CurrentBatch []mail.ClassifiedMessage `json:"currentBatch"`
	SelectedIDs  []string                 `json:"selectedIds"`
	Stats        Stats                    `json:"stats"`
	Buffered     int                      `json:"buffered"`
	HasMore      bool                     `json:"hasMore"`
	IsLoading    bool                     `json:"isLoading"`
	IsProcessing bool                     `json:"isProcessing"`
	IsComplete   bool                     `json:"isComplete"`
	Err          error                    `json:"-"`
	Error        string                   `json:"error,omitempty"`
}

// IsSelected reports whether id is selected.
func (v *View) IsSelected(id string) bool {
	for _, s := range v.SelectedIDs {
		if s == id {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current state. Selected ids are in batch
// order.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := append([]mail.ClassifiedMessage{}, c.st.batch(c.batchSize)...)
	selected := []string{}
	for _, m := range batch {
		if c.st.selected.has(m.ID) {
			selected = append(selected, m.ID)
		}
	}
	v := View{
		Mode:         c.mode,
		CurrentBatch: batch,
		SelectedIDs:  selected,
		Stats:        c.st.stats,
		Buffered:     len(c.st.buffer),
		HasMore:      c.cursor != "",
		IsLoading:    c.loading,
		IsProcessing: c.processing,
		IsComplete:   c.initialized && len(c.st.buffer) == 0 && c.cursor == "",
		Err:          c.err,
	}
	if c.err != nil {
		v.Error = c.err.Error()
	}
	return v
}
