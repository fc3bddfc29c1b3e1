// Package gateway turns a mailbox API into the page-and-commit contract a
// review session consumes: classified, mode-filtered pages of inbox messages
// and bulk delete, archive and unsubscribe commits.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/inboxsweep/internal/classify"
	"github.com/wesm/inboxsweep/internal/gmail"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/mime"
	"github.com/wesm/inboxsweep/internal/textutil"
	"github.com/wesm/inboxsweep/internal/unsubscribe"
)

// InboxQuery selects review candidates: inbox mail older than a day that the
// user has not starred.
const InboxQuery = "in:inbox -is:starred older_than:1d"

const (
	defaultPageSize    = 100
	defaultConcurrency = 10
	noSubject          = "(no subject)"
)

var metadataHeaders = []string{
	"From", "Subject", "Date",
	unsubscribe.HeaderListUnsubscribe, unsubscribe.HeaderListUnsubscribePost,
}

// ErrUnknownMode is returned for a mode the gateway cannot list or commit.
var ErrUnknownMode = errors.New("unknown review mode")

// DeleteMethod selects how CommitDelete removes messages.
type DeleteMethod string

const (
	DeletePermanent DeleteMethod = "permanent" // messages.batchDelete
	DeleteTrash     DeleteMethod = "trash"     // messages.trash per message
)

// Page is one page of classified candidates.
type Page struct {
	Messages      []mail.ClassifiedMessage
	NextPageToken string
}

// Body is the full content of one message for the detail view.
type Body struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	BodyText    string   `json:"bodyText"`
	BodyHTML    string   `json:"bodyHtml,omitempty"`
	IsHTML      bool     `json:"isHtml"`
	Attachments []string `json:"attachments,omitempty"`
}

// Journal records committed mutations. Implemented by store.Journal.
type Journal interface {
	RecordCommit(ctx context.Context, c Commit) error
}

// Commit describes one provider mutation for the journal.
type Commit struct {
	Mode      mail.Mode
	IDs       []string
	Succeeded []string
	Failed    []string
	Err       error
	At        time.Time
}

// Gateway implements the provider side of a review session.
type Gateway struct {
	api          gmail.API
	dispatcher   *unsubscribe.Dispatcher
	journal      Journal
	logger       *slog.Logger
	pageSize     int
	concurrency  int
	deleteMethod DeleteMethod
	now          func() time.Time

	mu        sync.Mutex
	userEmail string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithPageSize sets how many inbox messages are listed per page.
func WithPageSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.pageSize = n
		}
	}
}

// WithConcurrency bounds parallel metadata fetches.
func WithConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithDeleteMethod selects permanent deletion or trash.
func WithDeleteMethod(m DeleteMethod) Option {
	return func(g *Gateway) {
		if m != "" {
			g.deleteMethod = m
		}
	}
}

// WithDispatcher sets the unsubscribe dispatcher.
func WithDispatcher(d *unsubscribe.Dispatcher) Option {
	return func(g *Gateway) { g.dispatcher = d }
}

// WithJournal records every commit.
func WithJournal(j Journal) Option {
	return func(g *Gateway) { g.journal = j }
}

// WithUserEmail sets the account address instead of asking the provider.
func WithUserEmail(email string) Option {
	return func(g *Gateway) { g.userEmail = email }
}

// WithClock overrides the time source used for message ages.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway over api.
func New(api gmail.API, opts ...Option) *Gateway {
	g := &Gateway{
		api:          api,
		logger:       slog.Default(),
		pageSize:     defaultPageSize,
		concurrency:  defaultConcurrency,
		deleteMethod: DeletePermanent,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.dispatcher == nil {
		g.dispatcher = unsubscribe.NewDispatcher(api, unsubscribe.WithLogger(g.logger))
	}
	return g
}

// UserEmail returns the account address, fetching the profile once.
func (g *Gateway) UserEmail(ctx context.Context) (string, error) {
	g.mu.Lock()
	cached := g.userEmail
	g.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	profile, err := g.api.GetProfile(ctx)
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	g.mu.Lock()
	g.userEmail = profile.EmailAddress
	g.mu.Unlock()
	return profile.EmailAddress, nil
}

// ListMessages lists one page of inbox candidates, classifies them for mode,
// keeps those whose suggested action matches the mode and sorts them by
// normalized sender so one sender's mail is grouped together.
func (g *Gateway) ListMessages(ctx context.Context, mode mail.Mode, pageToken string) (*Page, error) {
	if _, err := mail.ParseMode(string(mode)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	userEmail, err := g.UserEmail(ctx)
	if err != nil {
		return nil, err
	}

	list, err := g.api.ListMessages(ctx, InboxQuery, pageToken, g.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	fetched := make([]*mail.Message, len(list.Messages))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, ref := range list.Messages {
		eg.Go(func() error {
			msg, err := g.fetchMessage(egCtx, ref)
			if err != nil {
				if gmail.IsNotFound(err) {
					g.logger.Debug("message vanished before fetch", "id", ref.ID)
					return nil
				}
				return err
			}
			fetched[i] = msg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	cctx := classify.Context{UserEmail: userEmail, Now: g.now()}
	want := mode.Action()
	page := &Page{NextPageToken: list.NextPageToken, Messages: []mail.ClassifiedMessage{}}
	for _, msg := range fetched {
		if msg == nil {
			continue
		}
		c := classify.ForMode(mode, msg, cctx)
		if c.Action != want {
			continue
		}
		page.Messages = append(page.Messages, mail.ClassifiedMessage{Message: *msg, Classification: c})
	}
	sort.SliceStable(page.Messages, func(i, j int) bool {
		return page.Messages[i].SenderKey() < page.Messages[j].SenderKey()
	})

	g.logger.Debug("listed page", "mode", mode, "listed", len(list.Messages),
		"candidates", len(page.Messages), "next", list.NextPageToken != "")
	return page, nil
}

func (g *Gateway) fetchMessage(ctx context.Context, ref gmail.MessageID) (*mail.Message, error) {
	meta, err := g.api.GetMessageMetadata(ctx, ref.ID, metadataHeaders...)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", ref.ID, err)
	}
	threadID := meta.ThreadID
	if threadID == "" {
		threadID = ref.ThreadID
	}
	threadCount := 1
	if threadID != "" {
		n, err := g.api.GetThreadMessageCount(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("get thread %s: %w", threadID, err)
		}
		if n > 0 {
			threadCount = n
		}
	}
	meta.ThreadID = threadID
	return g.toMessage(meta, threadCount), nil
}

func (g *Gateway) toMessage(meta *gmail.MessageMetadata, threadCount int) *mail.Message {
	subject := strings.TrimSpace(textutil.EnsureUTF8(meta.Header("Subject")))
	if subject == "" {
		subject = noSubject
	}
	date := g.now()
	if meta.InternalDate > 0 {
		date = time.UnixMilli(meta.InternalDate)
	}
	listUnsub := meta.Header(unsubscribe.HeaderListUnsubscribe)

	msg := &mail.Message{
		ID:                 meta.ID,
		ThreadID:           meta.ThreadID,
		From:               ParseSender(meta.Header("From")),
		Subject:            subject,
		Snippet:            textutil.CleanSnippet(meta.Snippet),
		Date:               date,
		Labels:             meta.LabelIDs,
		HasAttachments:     meta.HasAttachments,
		HasListUnsubscribe: strings.TrimSpace(listUnsub) != "",
		Unsubscribe:        unsubscribe.ParseHeaders(listUnsub, meta.Header(unsubscribe.HeaderListUnsubscribePost)),
		ThreadMessageCount: threadCount,
	}
	if msg.Labels == nil {
		msg.Labels = []string{}
	}
	msg.IsUnread = msg.HasLabel(mail.LabelUnread)
	msg.IsStarred = msg.HasLabel(mail.LabelStarred)
	return msg
}

// ParseSender splits a From header into display name and address. The name
// falls back to the address when absent.
func ParseSender(from string) mail.Sender {
	from = strings.TrimSpace(textutil.EnsureUTF8(from))
	if from == "" {
		return mail.Sender{}
	}
	if addr, err := gomail.ParseAddress(from); err == nil {
		name := strings.Trim(addr.Name, `"' `)
		if name == "" {
			name = addr.Address
		}
		return mail.Sender{Name: name, Email: addr.Address}
	}
	if lt := strings.LastIndexByte(from, '<'); lt >= 0 {
		if gt := strings.IndexByte(from[lt:], '>'); gt > 0 {
			email := strings.TrimSpace(from[lt+1 : lt+gt])
			name := strings.Trim(strings.TrimSpace(from[:lt]), `"'`)
			if name == "" {
				name = email
			}
			return mail.Sender{Name: name, Email: email}
		}
	}
	return mail.Sender{Name: from, Email: from}
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// CommitDelete removes messages, permanently by default. Messages that no
// longer exist count as deleted.
func (g *Gateway) CommitDelete(ctx context.Context, ids []string) error {
	err := g.commitDelete(ctx, ids)
	g.record(ctx, mail.ModeDelete, ids, nil, nil, err)
	return err
}

func (g *Gateway) commitDelete(ctx context.Context, ids []string) error {
	if g.deleteMethod == DeleteTrash {
		for _, id := range ids {
			if err := g.api.TrashMessage(ctx, id); err != nil && !gmail.IsNotFound(err) {
				return fmt.Errorf("trash %s: %w", id, err)
			}
		}
		return nil
	}
	for _, batch := range chunk(ids, gmail.MaxBatchSize) {
		err := g.api.BatchDeleteMessages(ctx, batch)
		if err == nil || gmail.IsNotFound(err) {
			continue
		}
		if gmail.IsInsufficientScope(err) {
			return fmt.Errorf("batch delete needs full mail access; re-run add-account: %w", err)
		}
		return fmt.Errorf("batch delete: %w", err)
	}
	return nil
}

// CommitArchive removes messages from the inbox without deleting them.
func (g *Gateway) CommitArchive(ctx context.Context, ids []string) error {
	var err error
	for _, batch := range chunk(ids, gmail.MaxBatchSize) {
		if e := g.api.BatchModifyMessages(ctx, batch, nil, []string{mail.LabelInbox}); e != nil && !gmail.IsNotFound(e) {
			err = fmt.Errorf("archive: %w", e)
			break
		}
	}
	g.record(ctx, mail.ModeArchive, ids, nil, nil, err)
	return err
}

// CommitUnsubscribe unsubscribes from each item's list. Partial failure is
// reported in the result, never as an error.
func (g *Gateway) CommitUnsubscribe(ctx context.Context, items []unsubscribe.Item) unsubscribe.Result {
	res := g.dispatcher.Run(ctx, items)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	g.record(ctx, mail.ModeUnsubscribe, ids, res.Succeeded, res.Failed, nil)
	return res
}

// GetMessageBody fetches and parses the full message for the detail view.
// HTML is sanitized before it is returned.
func (g *Gateway) GetMessageBody(ctx context.Context, id string) (*Body, error) {
	raw, err := g.api.GetMessageRaw(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	parsed, err := mime.Parse(raw.Raw)
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}

	body := &Body{
		ID:       id,
		Subject:  parsed.Subject,
		From:     mime.JoinAddresses(parsed.From),
		To:       mime.JoinAddresses(parsed.To),
		BodyText: parsed.GetBodyText(),
		IsHTML:   parsed.BodyHTML != "",
	}
	if body.IsHTML {
		body.BodyHTML = mime.SanitizeHTML(parsed.BodyHTML)
	}
	body.Attachments = parsed.Attachments
	return body, nil
}

func (g *Gateway) record(ctx context.Context, mode mail.Mode, ids, succeeded, failed []string, err error) {
	if g.journal == nil || len(ids) == 0 {
		return
	}
	if err == nil && succeeded == nil {
		succeeded = ids
	}
	if err != nil && failed == nil {
		failed = ids
	}
	c := Commit{Mode: mode, IDs: ids, Succeeded: succeeded, Failed: failed, Err: err, At: g.now()}
	if jerr := g.journal.RecordCommit(context.WithoutCancel(ctx), c); jerr != nil {
		g.logger.Warn("failed to record commit", "mode", mode, "error", jerr)
	}
}
