package imap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/wesm/inboxsweep/internal/gmail"
	"github.com/wesm/inboxsweep/internal/mail"
)

// Option is a functional option for Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock overrides the time source used for relative date queries.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client implements gmail.API for IMAP servers. Message IDs are
// "mailbox|uid". IMAP has no threads, so every thread holds one message.
// Commands are serialised over a single connection.
type Client struct {
	config   *Config
	password string
	logger   *slog.Logger
	now      func() time.Time

	mu              sync.Mutex
	conn            *imapclient.Client
	selectedMailbox string
	trashMailbox    string // resolved lazily from LIST
	archiveReady    bool   // archive mailbox known to exist
}

// NewClient creates a new IMAP client. The connection is opened on first use.
func NewClient(cfg *Config, password string, opts ...Option) *Client {
	c := &Client{
		config:   cfg,
		password: password,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connect establishes and authenticates the IMAP connection. Caller must hold mu.
func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}

	addr := c.config.Addr()
	c.logger.Debug("connecting to IMAP server", "addr", addr, "tls", c.config.TLS, "starttls", c.config.STARTTLS)

	imapOpts := &imapclient.Options{}
	var (
		conn *imapclient.Client
		err  error
	)
	switch {
	case c.config.TLS:
		conn, err = imapclient.DialTLS(addr, imapOpts)
	case c.config.STARTTLS:
		conn, err = imapclient.DialStartTLS(addr, imapOpts)
	default:
		conn, err = imapclient.DialInsecure(addr, imapOpts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := conn.Login(c.config.Username, c.password).Wait(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("IMAP login: %w", err)
	}

	c.conn = conn
	c.selectedMailbox = ""
	c.logger.Debug("connected and authenticated", "user", c.config.Username)
	return nil
}

// withConn runs fn holding the connection lock, connecting if necessary. A
// failed command drops the connection so the next call reconnects.
func (c *Client) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return err
	}
	err := fn(c.conn)
	var imapErr *imap.Error
	if err != nil && !errors.As(err, &imapErr) && !gmail.IsNotFound(err) && ctx.Err() == nil {
		// Transport failure rather than a server NO/BAD response.
		_ = c.conn.Close()
		c.conn = nil
	}
	return err
}

// selectMailbox selects a mailbox if not already selected. Caller must hold mu.
func (c *Client) selectMailbox(mailbox string) error {
	if c.selectedMailbox == mailbox {
		return nil
	}
	if _, err := c.conn.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("SELECT %q: %w", mailbox, err)
	}
	c.selectedMailbox = mailbox
	return nil
}

// resolveTrashLocked finds the trash mailbox by its \Trash attribute, then by
// common names. Caller must hold mu.
func (c *Client) resolveTrashLocked() (string, error) {
	if c.trashMailbox != "" {
		return c.trashMailbox, nil
	}
	items, err := c.conn.List("", "*", nil).Collect()
	if err != nil {
		return "", fmt.Errorf("LIST: %w", err)
	}
	var names []string
	for _, item := range items {
		if slices.Contains(item.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		if slices.Contains(item.Attrs, imap.MailboxAttrTrash) {
			c.trashMailbox = item.Mailbox
			return item.Mailbox, nil
		}
		names = append(names, item.Mailbox)
	}
	for _, candidate := range []string{"Trash", "[Gmail]/Trash", "Deleted Items", "Deleted Messages"} {
		for _, mb := range names {
			if strings.EqualFold(mb, candidate) {
				c.trashMailbox = mb
				return mb, nil
			}
		}
	}
	c.trashMailbox = "Trash"
	return c.trashMailbox, nil
}

// compositeID builds a message identifier as "mailbox|uid".
func compositeID(mailbox string, uid imap.UID) string {
	return mailbox + "|" + strconv.FormatUint(uint64(uid), 10)
}

// parseCompositeID splits a composite message ID into mailbox and UID.
func parseCompositeID(id string) (mailbox string, uid imap.UID, err error) {
	idx := strings.LastIndexByte(id, '|')
	if idx < 0 {
		return "", 0, fmt.Errorf("invalid IMAP message ID %q (expected mailbox|uid)", id)
	}
	n, parseErr := strconv.ParseUint(id[idx+1:], 10, 32)
	if parseErr != nil || n == 0 {
		return "", 0, fmt.Errorf("invalid UID in message ID %q", id)
	}
	return id[:idx], imap.UID(n), nil
}

// groupByMailbox splits composite IDs into per-mailbox UID sets.
func groupByMailbox(ids []string) (map[string]imap.UIDSet, error) {
	out := make(map[string]imap.UIDSet)
	for _, id := range ids {
		mailbox, uid, err := parseCompositeID(id)
		if err != nil {
			return nil, err
		}
		set := out[mailbox]
		set.AddNum(uid)
		out[mailbox] = set
	}
	return out, nil
}

// GetProfile returns the account address (the login name) and INBOX size.
func (c *Client) GetProfile(ctx context.Context) (*gmail.Profile, error) {
	var profile gmail.Profile
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		status, err := conn.Status("INBOX", &imap.StatusOptions{NumMessages: true}).Wait()
		if err != nil {
			return fmt.Errorf("STATUS INBOX: %w", err)
		}
		profile.EmailAddress = c.config.Username
		if status.NumMessages != nil {
			profile.MessagesTotal = int64(*status.NumMessages)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListMessages searches one mailbox with a Gmail-style query and pages the
// matching UIDs newest first.
func (c *Client) ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*gmail.MessageListResponse, error) {
	s, err := parseQuery(query, c.now())
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = 500
	}
	if _, _, err := pageUIDs(nil, pageToken, maxResults); err != nil {
		return nil, err
	}

	var resp gmail.MessageListResponse
	err = c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(s.mailbox); err != nil {
			return err
		}
		data, err := conn.UIDSearch(&s.criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("UID SEARCH: %w", err)
		}
		var uids []imap.UID
		if set, ok := data.All.(imap.UIDSet); ok {
			uids, _ = set.Nums()
		}
		page, next, err := pageUIDs(uids, pageToken, maxResults)
		if err != nil {
			return err
		}
		for _, uid := range page {
			id := compositeID(s.mailbox, uid)
			resp.Messages = append(resp.Messages, gmail.MessageID{ID: id, ThreadID: id})
		}
		resp.NextPageToken = next
		resp.ResultSizeEstimate = int64(len(uids))
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("listed mailbox", "mailbox", s.mailbox, "page", len(resp.Messages), "total", resp.ResultSizeEstimate)
	return &resp, nil
}

// fetchOne runs a UID FETCH for a single message. Caller must hold mu.
func (c *Client) fetchOne(conn *imapclient.Client, mailbox string, uid imap.UID, opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	if err := c.selectMailbox(mailbox); err != nil {
		return nil, err
	}
	id := compositeID(mailbox, uid)
	opts.UID = true
	msgs, err := conn.Fetch(imap.UIDSetNum(uid), opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("UID FETCH %s: %w", id, err)
	}
	for _, m := range msgs {
		if m.UID == uid {
			return m, nil
		}
	}
	return nil, &gmail.NotFoundError{Path: id}
}

// GetMessageMetadata fetches flags, date, headers and structure, plus the
// leading bytes of the first text part for the snippet.
func (c *Client) GetMessageMetadata(ctx context.Context, messageID string, headers ...string) (*gmail.MessageMetadata, error) {
	mailbox, uid, err := parseCompositeID(messageID)
	if err != nil {
		return nil, err
	}
	headerSection := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	if len(headers) > 0 {
		headerSection.HeaderFields = headers
	}

	var meta *gmail.MessageMetadata
	err = c.withConn(ctx, func(conn *imapclient.Client) error {
		buf, err := c.fetchOne(conn, mailbox, uid, &imap.FetchOptions{
			Flags:         true,
			InternalDate:  true,
			BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
			BodySection:   []*imap.FetchItemBodySection{headerSection},
		})
		if err != nil {
			return err
		}
		hdrs, err := parseHeaders(buf.FindBodySection(headerSection))
		if err != nil {
			c.logger.Warn("unparseable headers", "id", messageID, "error", err)
			hdrs = map[string]string{}
		}
		meta = &gmail.MessageMetadata{
			ID:           messageID,
			ThreadID:     messageID,
			LabelIDs:     flagLabels(mailbox, buf.Flags),
			InternalDate: buf.InternalDate.UnixMilli(),
			Headers:      hdrs,
		}
		if buf.BodyStructure == nil {
			return nil
		}
		meta.HasAttachments = hasAttachments(buf.BodyStructure)

		path, part := textPart(buf.BodyStructure)
		if part == nil {
			return nil
		}
		textSection := &imap.FetchItemBodySection{
			Part:    path,
			Peek:    true,
			Partial: &imap.SectionPartial{Offset: 0, Size: 2048},
		}
		textBuf, err := c.fetchOne(conn, mailbox, uid, &imap.FetchOptions{
			BodySection: []*imap.FetchItemBodySection{textSection},
		})
		if err != nil {
			c.logger.Debug("snippet fetch failed", "id", messageID, "error", err)
			return nil
		}
		meta.Snippet = decodeSnippet(part, textBuf.FindBodySection(textSection))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// GetThreadMessageCount always reports 1.
func (c *Client) GetThreadMessageCount(_ context.Context, _ string) (int, error) {
	return 1, nil
}

// GetMessageRaw fetches the full RFC 5322 message without setting \Seen.
func (c *Client) GetMessageRaw(ctx context.Context, messageID string) (*gmail.RawMessage, error) {
	mailbox, uid, err := parseCompositeID(messageID)
	if err != nil {
		return nil, err
	}
	section := &imap.FetchItemBodySection{Peek: true}
	var raw *gmail.RawMessage
	err = c.withConn(ctx, func(conn *imapclient.Client) error {
		buf, err := c.fetchOne(conn, mailbox, uid, &imap.FetchOptions{
			Flags:        true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{section},
		})
		if err != nil {
			return err
		}
		raw = &gmail.RawMessage{
			ID:           messageID,
			ThreadID:     messageID,
			LabelIDs:     flagLabels(mailbox, buf.Flags),
			InternalDate: buf.InternalDate.UnixMilli(),
			Raw:          buf.FindBodySection(section),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// TrashMessage moves a message to the server's trash mailbox.
func (c *Client) TrashMessage(ctx context.Context, messageID string) error {
	mailbox, uid, err := parseCompositeID(messageID)
	if err != nil {
		return err
	}
	return c.withConn(ctx, func(conn *imapclient.Client) error {
		trash, err := c.resolveTrashLocked()
		if err != nil {
			return err
		}
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		if _, err := conn.Move(imap.UIDSetNum(uid), trash).Wait(); err != nil {
			return fmt.Errorf("MOVE to %q: %w", trash, err)
		}
		return nil
	})
}

// BatchDeleteMessages permanently deletes messages with UID STORE \Deleted
// followed by UID EXPUNGE, one mailbox at a time. UIDs that no longer exist
// are ignored by the server.
func (c *Client) BatchDeleteMessages(ctx context.Context, messageIDs []string) error {
	groups, err := groupByMailbox(messageIDs)
	if err != nil {
		return err
	}
	return c.withConn(ctx, func(conn *imapclient.Client) error {
		for mailbox, uids := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.selectMailbox(mailbox); err != nil {
				return err
			}
			if err := conn.Store(uids, &imap.StoreFlags{
				Op:     imap.StoreFlagsAdd,
				Silent: true,
				Flags:  []imap.Flag{imap.FlagDeleted},
			}, nil).Close(); err != nil {
				return fmt.Errorf("UID STORE \\Deleted: %w", err)
			}
			if err := conn.UIDExpunge(uids).Close(); err != nil {
				return fmt.Errorf("UID EXPUNGE: %w", err)
			}
		}
		return nil
	})
}

// BatchModifyMessages maps label changes onto IMAP: removing INBOX moves
// messages to the archive mailbox, STARRED and UNREAD toggle \Flagged and
// \Seen. Other labels are unsupported.
func (c *Client) BatchModifyMessages(ctx context.Context, messageIDs, addLabels, removeLabels []string) error {
	groups, err := groupByMailbox(messageIDs)
	if err != nil {
		return err
	}

	var addFlags, delFlags []imap.Flag
	archive := false
	for _, l := range addLabels {
		switch l {
		case mail.LabelStarred:
			addFlags = append(addFlags, imap.FlagFlagged)
		case mail.LabelUnread:
			delFlags = append(delFlags, imap.FlagSeen)
		default:
			return fmt.Errorf("add label %q: %w", l, gmail.ErrUnsupported)
		}
	}
	for _, l := range removeLabels {
		switch l {
		case mail.LabelInbox:
			archive = true
		case mail.LabelStarred:
			delFlags = append(delFlags, imap.FlagFlagged)
		case mail.LabelUnread:
			addFlags = append(addFlags, imap.FlagSeen)
		default:
			return fmt.Errorf("remove label %q: %w", l, gmail.ErrUnsupported)
		}
	}

	return c.withConn(ctx, func(conn *imapclient.Client) error {
		for mailbox, uids := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.selectMailbox(mailbox); err != nil {
				return err
			}
			for _, change := range []struct {
				op    imap.StoreFlagsOp
				flags []imap.Flag
			}{{imap.StoreFlagsAdd, addFlags}, {imap.StoreFlagsDel, delFlags}} {
				if len(change.flags) == 0 {
					continue
				}
				if err := conn.Store(uids, &imap.StoreFlags{Op: change.op, Silent: true, Flags: change.flags}, nil).Close(); err != nil {
					return fmt.Errorf("UID STORE: %w", err)
				}
			}
			if archive && !strings.EqualFold(mailbox, c.config.ArchiveMailbox) {
				if err := c.ensureArchiveLocked(conn); err != nil {
					return err
				}
				if _, err := conn.Move(uids, c.config.ArchiveMailbox).Wait(); err != nil {
					return fmt.Errorf("MOVE to %q: %w", c.config.ArchiveMailbox, err)
				}
			}
		}
		return nil
	})
}

// ensureArchiveLocked creates the archive mailbox if it is missing.
func (c *Client) ensureArchiveLocked(conn *imapclient.Client) error {
	if c.archiveReady {
		return nil
	}
	if c.config.ArchiveMailbox == "" {
		return errors.New("no archive mailbox configured")
	}
	items, err := conn.List("", c.config.ArchiveMailbox, nil).Collect()
	if err != nil {
		return fmt.Errorf("LIST %q: %w", c.config.ArchiveMailbox, err)
	}
	if len(items) == 0 {
		if err := conn.Create(c.config.ArchiveMailbox, nil).Wait(); err != nil {
			return fmt.Errorf("CREATE %q: %w", c.config.ArchiveMailbox, err)
		}
		c.logger.Info("created archive mailbox", "mailbox", c.config.ArchiveMailbox)
	}
	c.archiveReady = true
	return nil
}

// SendMessage is not available over IMAP; mailto unsubscribes fail with
// gmail.ErrUnsupported and the dispatcher falls through.
func (c *Client) SendMessage(_ context.Context, _ []byte) error {
	return gmail.ErrUnsupported
}

// Close logs out and disconnects from the IMAP server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.selectedMailbox = ""
	return conn.Logout().Wait()
}

var _ gmail.API = (*Client)(nil)
