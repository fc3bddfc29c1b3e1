package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/unsubscribe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func msg(id, sender string) mail.ClassifiedMessage {
	return mail.ClassifiedMessage{
		Message: mail.Message{
			ID:          id,
			ThreadID:    "t-" + id,
			From:        mail.Sender{Name: sender, Email: sender},
			Subject:     "Subject " + id,
			Date:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Labels:      []string{mail.LabelInbox},
			Unsubscribe: &mail.UnsubscribeTarget{URLs: []string{"https://unsub.example/" + id}},
		},
		Classification: mail.Classification{Action: mail.ActionDelete, Confidence: 0.9, Reasons: []string{"Promotional email"}},
	}
}

func msgs(prefix string, n int) []mail.ClassifiedMessage {
	out := make([]mail.ClassifiedMessage, n)
	for i := range out {
		id := fmt.Sprintf("%s%d", prefix, i+1)
		out[i] = msg(id, id+"@example.com")
	}
	return out
}

// fakeProvider serves pages keyed by page token. Listings for a token with a
// gate, and every commit when commitGate is set, block until released.
type fakeProvider struct {
	mu         sync.Mutex
	pages      map[string]*gateway.Page
	listErr    error
	listGates  map[string]chan struct{}
	listCalls  []string
	commitGate chan error
	started    chan struct{}

	deleteErr  error
	deleted    [][]string
	archived   [][]string
	unsubItems [][]unsubscribe.Item
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		pages:     make(map[string]*gateway.Page),
		listGates: make(map[string]chan struct{}),
		started:   make(chan struct{}, 100),
	}
}

func (p *fakeProvider) addPage(token, next string, messages []mail.ClassifiedMessage) {
	p.pages[token] = &gateway.Page{Messages: messages, NextPageToken: next}
}

func (p *fakeProvider) ListMessages(ctx context.Context, mode mail.Mode, pageToken string) (*gateway.Page, error) {
	p.mu.Lock()
	p.listCalls = append(p.listCalls, pageToken)
	gate := p.listGates[pageToken]
	err := p.listErr
	page := p.pages[pageToken]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if page == nil {
		return &gateway.Page{}, nil
	}
	return page, nil
}

func (p *fakeProvider) waitCommit() error {
	p.started <- struct{}{}
	if p.commitGate != nil {
		return <-p.commitGate
	}
	return nil
}

func (p *fakeProvider) CommitDelete(ctx context.Context, ids []string) error {
	gateErr := p.waitCommit()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, ids)
	if gateErr != nil {
		return gateErr
	}
	return p.deleteErr
}

func (p *fakeProvider) CommitArchive(ctx context.Context, ids []string) error {
	gateErr := p.waitCommit()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archived = append(p.archived, ids)
	return gateErr
}

func (p *fakeProvider) CommitUnsubscribe(ctx context.Context, items []unsubscribe.Item) unsubscribe.Result {
	_ = p.waitCommit()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsubItems = append(p.unsubItems, items)
	res := unsubscribe.Result{Succeeded: []string{}, Failed: []string{}}
	for _, it := range items {
		if it.Target.Usable() {
			res.Succeeded = append(res.Succeeded, it.ID)
		} else {
			res.Failed = append(res.Failed, it.ID)
		}
	}
	return res
}

func (p *fakeProvider) calls(token string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.listCalls {
		if c == token {
			n++
		}
	}
	return n
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func newController(t *testing.T, mode mail.Mode, p *fakeProvider, opts ...Option) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	base := []Option{WithLogger(testLogger()), WithNotifier(rec)}
	c := New(mode, p, append(base, opts...)...)
	t.Cleanup(func() {
		c.Close()
		c.Wait()
	})
	return c, rec
}

func mustInitialize(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

// checkInvariants verifies the buffer and selection invariants that must
// hold after every operation.
func checkInvariants(t *testing.T, c *Controller) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := idSet{}
	for _, m := range c.st.buffer {
		if seen.has(m.ID) {
			t.Errorf("duplicate %s in buffer", m.ID)
		}
		seen.add(m.ID)
		if c.st.processed.has(m.ID) || c.st.skipped.has(m.ID) {
			t.Errorf("buffer holds processed or skipped id %s", m.ID)
		}
		if c.mode == mail.ModeUnsubscribe && c.st.skippedSenders.has(m.SenderKey()) {
			t.Errorf("buffer holds message %s from skipped sender %s", m.ID, m.SenderKey())
		}
	}
	batch := c.st.batch(c.batchSize)
	if len(batch) > c.batchSize {
		t.Errorf("batch size %d exceeds %d", len(batch), c.batchSize)
	}
	inBatch := idSet{}
	inBatch.add(idsOf(batch)...)
	for id := range c.st.selected {
		if !inBatch.has(id) {
			t.Errorf("selected id %s is not in the current batch", id)
		}
	}
}

func batchIDs(v View) []string {
	return idsOf(v.CurrentBatch)
}

func TestInitialize_SelectsFirstBatch(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 15))
	c, _ := newController(t, mail.ModeDelete, p)

	mustInitialize(t, c)
	checkInvariants(t, c)

	v := c.Snapshot()
	if len(v.CurrentBatch) != 10 || v.Buffered != 15 {
		t.Fatalf("batch = %d buffered = %d", len(v.CurrentBatch), v.Buffered)
	}
	if diff := cmp.Diff(batchIDs(v), v.SelectedIDs); diff != "" {
		t.Errorf("first batch should be selected (-batch +selected):\n%s", diff)
	}
	if v.IsLoading || v.IsComplete || v.HasMore {
		t.Errorf("flags = %+v", v)
	}
}

func TestInitialize_IsIdempotent(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 3))
	c, _ := newController(t, mail.ModeDelete, p)

	mustInitialize(t, c)
	mustInitialize(t, c)
	if n := p.calls(""); n != 1 {
		t.Errorf("first page listed %d times, want 1", n)
	}
}

func TestInitialize_ListingErrorBlocks(t *testing.T) {
	p := newFakeProvider()
	p.listErr = errors.New("401 unauthorized")
	c, _ := newController(t, mail.ModeDelete, p)

	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	v := c.Snapshot()
	if v.Err == nil || v.Error == "" || len(v.CurrentBatch) != 0 || v.IsComplete || v.IsLoading {
		t.Errorf("view = %+v", v)
	}

	// A later attempt can recover.
	p.listErr = nil
	p.addPage("", "", msgs("m", 2))
	mustInitialize(t, c)
	if v := c.Snapshot(); v.Err != nil || len(v.CurrentBatch) != 2 {
		t.Errorf("after retry view = %+v", v)
	}
}

func TestInitialize_FiltersDuplicates(t *testing.T) {
	p := newFakeProvider()
	page := msgs("m", 4)
	page = append(page, page[1], page[3])
	p.addPage("", "", page)
	c, _ := newController(t, mail.ModeDelete, p)

	mustInitialize(t, c)
	if diff := cmp.Diff([]string{"m1", "m2", "m3", "m4"}, batchIDs(c.Snapshot())); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestPrefetch_MergesOverlappingPages(t *testing.T) {
	p := newFakeProvider()
	first := msgs("m", 12)
	second := append(msgs("n", 3), first[10], first[11])
	p.addPage("", "page_1", first)
	p.addPage("page_1", "", second)
	c, _ := newController(t, mail.ModeDelete, p)

	mustInitialize(t, c)
	c.Wait()
	checkInvariants(t, c)

	v := c.Snapshot()
	if v.Buffered != 15 {
		t.Errorf("Buffered = %d, want 15", v.Buffered)
	}
	if v.HasMore {
		t.Error("HasMore should be false after the last page")
	}
	// Existing order and batch are untouched by the merge.
	if diff := cmp.Diff(idsOf(first[:10]), batchIDs(v)); diff != "" {
		t.Errorf("batch changed (-want +got):\n%s", diff)
	}
}

func TestPrefetch_OneFetchPerCursor(t *testing.T) {
	p := newFakeProvider()
	gate := make(chan struct{})
	p.listGates["page_1"] = gate
	p.addPage("", "page_1", msgs("m", 5))
	p.addPage("page_1", "", msgs("n", 5))
	c, _ := newController(t, mail.ModeDelete, p)

	mustInitialize(t, c)
	for i := 0; i < 5; i++ {
		if c.Prefetch() {
			t.Fatalf("Prefetch #%d started a second fetch for the same cursor", i)
		}
	}
	close(gate)
	c.Wait()

	if n := p.calls("page_1"); n != 1 {
		t.Errorf("page_1 listed %d times, want 1", n)
	}
	if v := c.Snapshot(); v.Buffered != 10 {
		t.Errorf("Buffered = %d, want 10", v.Buffered)
	}
	if c.Prefetch() {
		t.Error("Prefetch without a cursor should not start")
	}
}

func TestPrefetch_NotBelowWatermark(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "page_1", msgs("m", 20))
	c, _ := newController(t, mail.ModeDelete, p)

	mustInitialize(t, c)
	c.Wait()
	if n := p.calls("page_1"); n != 0 {
		t.Errorf("page_1 listed %d times with a full buffer", n)
	}
}

func TestPrefetch_FillsEmptyBatchAndSelectsIt(t *testing.T) {
	p := newFakeProvider()
	gate := make(chan struct{})
	p.listGates["page_1"] = gate
	p.addPage("", "page_1", []mail.ClassifiedMessage{})
	p.addPage("page_1", "", msgs("n", 3))
	c, _ := newController(t, mail.ModeDelete, p)

	mustInitialize(t, c)
	if v := c.Snapshot(); v.IsComplete || !v.HasMore {
		t.Fatalf("session with a pending page must not be complete: %+v", v)
	}
	close(gate)
	c.Wait()

	v := c.Snapshot()
	if diff := cmp.Diff([]string{"n1", "n2", "n3"}, v.SelectedIDs); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelection(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 12))
	c, _ := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	c.DeselectAll()
	if v := c.Snapshot(); len(v.SelectedIDs) != 0 {
		t.Errorf("after DeselectAll: %v", v.SelectedIDs)
	}
	if !c.ToggleSelection("m3", true) {
		t.Error("m3 is in the batch")
	}
	if c.ToggleSelection("m11", true) {
		t.Error("m11 is outside the batch and must be ignored")
	}
	if c.ToggleSelection("missing", true) {
		t.Error("unknown id must be ignored")
	}
	checkInvariants(t, c)
	if diff := cmp.Diff([]string{"m3"}, c.Snapshot().SelectedIDs); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}

	c.ToggleSelection("m3", false)
	c.SelectAll()
	if v := c.Snapshot(); len(v.SelectedIDs) != 10 {
		t.Errorf("after SelectAll: %d selected", len(v.SelectedIDs))
	}
	checkInvariants(t, c)
}

func TestProcessSelected_Success(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 15))
	c, rec := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	c.ToggleSelection("m2", false)
	c.ToggleSelection("m5", false)
	if err := c.ProcessSelected(context.Background()); err != nil {
		t.Fatalf("ProcessSelected: %v", err)
	}
	checkInvariants(t, c)

	want := []string{"m1", "m3", "m4", "m6", "m7", "m8", "m9", "m10"}
	if len(p.deleted) != 1 {
		t.Fatalf("delete calls = %d", len(p.deleted))
	}
	if diff := cmp.Diff(want, p.deleted[0]); diff != "" {
		t.Errorf("deleted ids mismatch (-want +got):\n%s", diff)
	}

	v := c.Snapshot()
	if v.Stats != (Stats{Deleted: 8}) {
		t.Errorf("Stats = %+v", v.Stats)
	}
	if diff := cmp.Diff([]string{"m11", "m12", "m13", "m14", "m15"}, batchIDs(v)); diff != "" {
		t.Errorf("next batch mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(batchIDs(v), v.SelectedIDs); diff != "" {
		t.Errorf("next batch should be selected:\n%s", diff)
	}
	if v.IsProcessing {
		t.Error("IsProcessing should be false after the commit returns")
	}

	c.mu.Lock()
	skipped := c.st.skipped.has("m2") && c.st.skipped.has("m5")
	c.mu.Unlock()
	if !skipped {
		t.Error("unselected batch members should be skipped")
	}

	notes := rec.all()
	if len(notes) != 1 || notes[0].Level != LevelSuccess || notes[0].Message != "Deleted 8 emails" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestProcessSelected_Archive(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 1))
	c, rec := newController(t, mail.ModeArchive, p)
	mustInitialize(t, c)

	if err := c.ProcessSelected(context.Background()); err != nil {
		t.Fatalf("ProcessSelected: %v", err)
	}
	if len(p.archived) != 1 || len(p.deleted) != 0 {
		t.Errorf("archived = %v deleted = %v", p.archived, p.deleted)
	}
	v := c.Snapshot()
	if v.Stats != (Stats{Archived: 1}) || !v.IsComplete {
		t.Errorf("view = %+v", v)
	}
	if notes := rec.all(); len(notes) != 1 || notes[0].Message != "Archived 1 email" {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestProcessSelected_EmptySelectionIsNoop(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 5))
	c, rec := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	c.DeselectAll()
	before := c.Snapshot()
	if err := c.ProcessSelected(context.Background()); err != nil {
		t.Fatalf("ProcessSelected: %v", err)
	}
	if len(p.deleted) != 0 || len(rec.all()) != 0 {
		t.Error("empty selection must not reach the provider")
	}
	if diff := cmp.Diff(before, c.Snapshot()); diff != "" {
		t.Errorf("state changed (-before +after):\n%s", diff)
	}
}

func TestProcessSelected_RollbackRestoresSnapshot(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 14))
	p.deleteErr = errors.New("network unreachable")
	c, rec := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	// Commit a first batch successfully so stats and processed are non-empty.
	p.deleteErr = nil
	c.ToggleSelection("m1", false)
	if err := c.ProcessSelected(context.Background()); err != nil {
		t.Fatalf("first ProcessSelected: %v", err)
	}
	c.ToggleSelection("m12", false)

	c.mu.Lock()
	before := c.st.clone()
	c.mu.Unlock()
	beforeView := c.Snapshot()

	p.deleteErr = errors.New("network unreachable")
	err := c.ProcessSelected(context.Background())
	if err == nil || !errors.Is(err, p.deleteErr) {
		t.Fatalf("ProcessSelected error = %v, want wrapped provider error", err)
	}
	checkInvariants(t, c)

	c.mu.Lock()
	after := c.st.clone()
	c.mu.Unlock()
	if diff := cmp.Diff(before, after, cmp.AllowUnexported(state{})); diff != "" {
		t.Errorf("state not restored (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(beforeView, c.Snapshot()); diff != "" {
		t.Errorf("view not restored (-before +after):\n%s", diff)
	}
	if c.Snapshot().Stats.Deleted != 9 {
		t.Errorf("Deleted = %d, want 9 from the first commit only", c.Snapshot().Stats.Deleted)
	}

	notes := rec.all()
	last := notes[len(notes)-1]
	if last.Level != LevelError || last.Message != "Failed to delete: network unreachable" || last.Count != 3 {
		t.Errorf("notification = %+v", last)
	}
}

func TestProcessSelected_RollbackOfFullBatch(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 10))
	p.deleteErr = errors.New("connection reset")
	c, _ := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	if err := c.ProcessSelected(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	v := c.Snapshot()
	if v.Stats.Deleted != 0 {
		t.Errorf("Deleted = %d", v.Stats.Deleted)
	}
	if diff := cmp.Diff(idsOf(msgs("m", 10)), batchIDs(v)); diff != "" {
		t.Errorf("batch not restored (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(batchIDs(v), v.SelectedIDs); diff != "" {
		t.Errorf("selection not restored:\n%s", diff)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.st.processed) != 0 || len(c.st.skipped) != 0 {
		t.Errorf("processed = %v skipped = %v", c.st.processed, c.st.skipped)
	}
}

func TestProcessSelected_RollbackKeepsPagesFetchedDuringCommit(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "page_1", msgs("m", 5))
	p.addPage("page_1", "", msgs("n", 2))
	p.commitGate = make(chan error)
	c, _ := newController(t, mail.ModeDelete, p, WithBatchSize(2))
	mustInitialize(t, c)
	c.Wait()

	done := make(chan error, 1)
	go func() { done <- c.ProcessSelected(context.Background()) }()
	<-p.started
	c.Wait() // prefetch triggered by the optimistic advance

	if v := c.Snapshot(); !v.IsProcessing || v.Buffered != 5 {
		t.Fatalf("during commit view = %+v", v)
	}
	p.commitGate <- errors.New("boom")
	if err := <-done; err == nil {
		t.Fatal("expected commit error")
	}

	c.mu.Lock()
	var ids []string
	for _, m := range c.st.buffer {
		ids = append(ids, m.ID)
	}
	c.mu.Unlock()
	want := []string{"m1", "m2", "m3", "m4", "m5", "n1", "n2"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("buffer mismatch (-want +got):\n%s", diff)
	}
	checkInvariants(t, c)
}

func TestProcessSelected_Busy(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 15))
	p.commitGate = make(chan error)
	c, _ := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	done := make(chan error, 1)
	go func() { done <- c.ProcessSelected(context.Background()) }()
	<-p.started

	if !c.Snapshot().IsProcessing {
		t.Error("IsProcessing should be true for the whole round trip")
	}
	if err := c.ProcessSelected(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second ProcessSelected = %v, want ErrBusy", err)
	}
	if err := c.SkipBatch(); !errors.Is(err, ErrBusy) {
		t.Errorf("SkipBatch during commit = %v, want ErrBusy", err)
	}

	p.commitGate <- nil
	if err := <-done; err != nil {
		t.Fatalf("ProcessSelected: %v", err)
	}
	if c.Snapshot().IsProcessing {
		t.Error("IsProcessing should be false after the round trip")
	}
}

func TestSkipBatch(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 12))
	c, _ := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	if err := c.SkipBatch(); err != nil {
		t.Fatalf("SkipBatch: %v", err)
	}
	checkInvariants(t, c)
	v := c.Snapshot()
	if diff := cmp.Diff([]string{"m11", "m12"}, v.SelectedIDs); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
	if v.Stats.Total() != 0 {
		t.Errorf("skipping must not count: %+v", v.Stats)
	}

	if err := c.SkipBatch(); err != nil {
		t.Fatalf("SkipBatch: %v", err)
	}
	if v := c.Snapshot(); !v.IsComplete {
		t.Errorf("expected complete, got %+v", v)
	}
	if err := c.SkipBatch(); err != nil {
		t.Errorf("SkipBatch on empty batch: %v", err)
	}
}

func TestSkipBatch_UnsubscribePurgesSenders(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "page_1", []mail.ClassifiedMessage{
		msg("a1", "a@example.com"),
		msg("b1", "b@example.com"),
		msg("c1", "c@example.com"),
		msg("a2", "a@example.com"),
		msg("d1", "d@example.com"),
	})
	p.addPage("page_1", "", []mail.ClassifiedMessage{
		msg("a3", "A@Example.com"),
		msg("e1", "e@example.com"),
		msg("b2", "b@example.com"),
	})
	c, _ := newController(t, mail.ModeUnsubscribe, p, WithBatchSize(2))
	mustInitialize(t, c)

	if err := c.SkipBatch(); err != nil {
		t.Fatalf("SkipBatch: %v", err)
	}
	c.Wait()
	checkInvariants(t, c)

	c.mu.Lock()
	ids := idsOf(c.st.buffer)
	senders := c.st.skippedSenders.clone()
	c.mu.Unlock()
	if diff := cmp.Diff([]string{"c1", "d1", "e1"}, ids); diff != "" {
		t.Errorf("buffer mismatch (-want +got):\n%s", diff)
	}
	if !senders.has("a@example.com") || !senders.has("b@example.com") || len(senders) != 2 {
		t.Errorf("skippedSenders = %v", senders)
	}
}

func TestSkipBatch_DeleteModeKeepsSenders(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", []mail.ClassifiedMessage{
		msg("a1", "a@example.com"),
		msg("b1", "b@example.com"),
		msg("a2", "a@example.com"),
	})
	c, _ := newController(t, mail.ModeDelete, p, WithBatchSize(2))
	mustInitialize(t, c)

	if err := c.SkipBatch(); err != nil {
		t.Fatalf("SkipBatch: %v", err)
	}
	if diff := cmp.Diff([]string{"a2"}, batchIDs(c.Snapshot())); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessSelected_UnsubscribeSkipsUnselectedSenders(t *testing.T) {
	p := newFakeProvider()
	gate := make(chan struct{})
	p.listGates["page_1"] = gate
	noTarget := msg("c1", "c@example.com")
	noTarget.Unsubscribe = nil
	p.addPage("", "page_1", []mail.ClassifiedMessage{
		msg("a1", "a@example.com"),
		msg("d1", "d@example.com"),
		noTarget,
		msg("d2", "d@example.com"),
	})
	p.addPage("page_1", "", []mail.ClassifiedMessage{
		msg("d3", "d@example.com"),
		msg("f1", "f@example.com"),
	})
	c, rec := newController(t, mail.ModeUnsubscribe, p, WithBatchSize(3))
	mustInitialize(t, c)

	c.ToggleSelection("d1", false)
	if err := c.ProcessSelected(context.Background()); err != nil {
		t.Fatalf("ProcessSelected: %v", err)
	}
	close(gate)
	c.Wait()
	checkInvariants(t, c)

	if len(p.unsubItems) != 1 {
		t.Fatalf("unsubscribe calls = %d", len(p.unsubItems))
	}
	var sent []string
	for _, it := range p.unsubItems[0] {
		sent = append(sent, it.ID)
	}
	if diff := cmp.Diff([]string{"a1", "c1"}, sent); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}

	// d2 (buffered) and d3 (later page) are gone with their sender.
	if diff := cmp.Diff([]string{"f1"}, batchIDs(c.Snapshot())); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	if n := p.calls("page_1"); n != 1 {
		t.Errorf("page_1 listed %d times", n)
	}

	v := c.Snapshot()
	if v.Stats.Unsubscribed != 2 {
		t.Errorf("Unsubscribed = %d, partial failure still counts as processed", v.Stats.Unsubscribed)
	}
	notes := rec.all()
	if len(notes) != 1 || notes[0].Message != "Unsubscribed from 2 emails (1 failed)" || notes[0].Failed != 1 {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestStartOver(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 12))
	c, _ := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	if err := c.ProcessSelected(context.Background()); err != nil {
		t.Fatalf("ProcessSelected: %v", err)
	}
	if err := c.SkipBatch(); err != nil {
		t.Fatalf("SkipBatch: %v", err)
	}
	if err := c.StartOver(context.Background()); err != nil {
		t.Fatalf("StartOver: %v", err)
	}
	checkInvariants(t, c)

	v := c.Snapshot()
	if v.Stats != (Stats{}) {
		t.Errorf("Stats = %+v", v.Stats)
	}
	// The provider still returns the same page; nothing is filtered any more.
	if v.Buffered != 12 || len(v.SelectedIDs) != 10 {
		t.Errorf("view = %+v", v)
	}
	if n := p.calls(""); n != 2 {
		t.Errorf("first page listed %d times, want 2", n)
	}
}

func TestStartOver_IgnoresInFlightCommit(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 10))
	p.commitGate = make(chan error)
	c, rec := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	done := make(chan error, 1)
	go func() { done <- c.ProcessSelected(context.Background()) }()
	<-p.started

	if err := c.StartOver(context.Background()); err != nil {
		t.Fatalf("StartOver: %v", err)
	}
	p.commitGate <- errors.New("late failure")
	if err := <-done; err != nil {
		t.Errorf("abandoned commit returned %v", err)
	}
	v := c.Snapshot()
	if v.Buffered != 10 || v.IsProcessing || v.Stats != (Stats{}) {
		t.Errorf("view = %+v", v)
	}
	if len(rec.all()) != 0 {
		t.Errorf("abandoned commit must not notify: %+v", rec.all())
	}
}

func TestClose(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 10))
	p.commitGate = make(chan error)
	c, rec := newController(t, mail.ModeDelete, p)
	mustInitialize(t, c)

	done := make(chan error, 1)
	go func() { done <- c.ProcessSelected(context.Background()) }()
	<-p.started
	c.Close()
	p.commitGate <- nil

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("in-flight commit after Close = %v, want ErrClosed", err)
	}
	if len(p.deleted) != 1 {
		t.Error("in-flight commit should still reach the provider")
	}
	if len(rec.all()) != 0 {
		t.Error("disposed controller must not notify")
	}
	if err := c.Initialize(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Initialize after Close = %v", err)
	}
	if err := c.SkipBatch(); !errors.Is(err, ErrClosed) {
		t.Errorf("SkipBatch after Close = %v", err)
	}
	if err := c.StartOver(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("StartOver after Close = %v", err)
	}
	c.Close()
}

func TestOnChange(t *testing.T) {
	p := newFakeProvider()
	p.addPage("", "", msgs("m", 3))
	var mu sync.Mutex
	changes := 0
	c, _ := newController(t, mail.ModeDelete, p, WithOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))
	mustInitialize(t, c)
	c.SelectAll()

	mu.Lock()
	defer mu.Unlock()
	if changes < 3 {
		t.Errorf("changes = %d, want at least 3", changes)
	}
}

func TestCompletion(t *testing.T) {
	p := newFakeProvider()
	c, _ := newController(t, mail.ModeDelete, p)
	if c.Snapshot().IsComplete {
		t.Error("uninitialized session is not complete")
	}
	mustInitialize(t, c)
	if !c.Snapshot().IsComplete {
		t.Error("empty inbox with no pages should be complete")
	}
}

func TestBatchInvariantAcrossOperations(t *testing.T) {
	p := newFakeProvider()
	var all []mail.ClassifiedMessage
	for i := 0; i < 35; i++ {
		all = append(all, msg(fmt.Sprintf("m%02d", i), fmt.Sprintf("s%d@example.com", i%7)))
	}
	p.addPage("", "page_1", all[:15])
	p.addPage("page_1", "page_2", append(all[10:25:25], all[3]))
	p.addPage("page_2", "", all[25:])

	for _, mode := range mail.Modes {
		t.Run(string(mode), func(t *testing.T) {
			c, _ := newController(t, mode, p)
			mustInitialize(t, c)
			ops := []func(){
				func() { c.Wait() },
				func() { c.ToggleSelection(c.Snapshot().SelectedIDs[0], false) },
				func() { _ = c.ProcessSelected(context.Background()) },
				func() { c.Wait() },
				func() { _ = c.SkipBatch() },
				func() { c.DeselectAll() },
				func() { c.Wait() },
				func() { c.SelectAll() },
				func() { _ = c.ProcessSelected(context.Background()) },
				func() { c.Wait() },
			}
			for i, op := range ops {
				if len(c.Snapshot().SelectedIDs) == 0 && i == 1 {
					continue
				}
				op()
				checkInvariants(t, c)
			}
		})
	}
}

func TestNotificationText(t *testing.T) {
	tests := []struct {
		n    Notification
		want string
	}{
		{successNotification(mail.ModeDelete, 1, 0), "Deleted 1 email"},
		{successNotification(mail.ModeArchive, 4, 0), "Archived 4 emails"},
		{successNotification(mail.ModeUnsubscribe, 3, 1), "Unsubscribed from 3 emails (1 failed)"},
		{failureNotification(mail.ModeArchive, 2, errors.New("403 forbidden")), "Failed to archive: 403 forbidden"},
	}
	for _, tt := range tests {
		if tt.n.Message != tt.want {
			t.Errorf("Message = %q, want %q", tt.n.Message, tt.want)
		}
	}
}
