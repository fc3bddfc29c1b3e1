package mcp

import (
	"context"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/store"
)

// Tool name constants.
const (
	ToolClassifyMessage = "classify_message"
	ToolListCandidates  = "list_candidates"
	ToolGetMessageBody  = "get_message_body"
	ToolListJournal     = "list_journal"
)

// Candidates lists one classified page for a mode. *gateway.Gateway
// implements it.
type Candidates interface {
	ListMessages(ctx context.Context, mode mail.Mode, pageToken string) (*gateway.Page, error)
	GetMessageBody(ctx context.Context, id string) (*gateway.Body, error)
}

// Journal reads committed actions. *store.Store implements it.
type Journal interface {
	ListCommits(ctx context.Context, opts store.ListOptions) ([]*store.CommitRecord, error)
}

// Options configures the tool handlers.
type Options struct {
	// UserEmail is the account address; mail from it is always kept.
	UserEmail string
	// Journal may be nil, in which case list_journal reports an error.
	Journal Journal
}

// Common argument helpers for recurring tool option definitions.

func withLimit(defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default "+defaultDesc+")"),
	)
}

func withMode(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{
		mcp.Description("Review mode"),
		mcp.Enum(string(mail.ModeDelete), string(mail.ModeArchive), string(mail.ModeUnsubscribe)),
	}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithString("mode", opts...)
}

func newHandlers(provider Candidates, opts Options) *handlers {
	return &handlers{
		provider:  provider,
		journal:   opts.Journal,
		userEmail: opts.UserEmail,
		now:       time.Now,
	}
}

// NewServer builds an MCP server exposing the classification and review
// tools.
func NewServer(provider Candidates, opts Options) *server.MCPServer {
	s := server.NewMCPServer(
		"inboxsweep",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := newHandlers(provider, opts)

	s.AddTool(classifyMessageTool(), h.classifyMessage)
	s.AddTool(listCandidatesTool(), h.listCandidates)
	s.AddTool(getMessageBodyTool(), h.getMessageBody)
	s.AddTool(listJournalTool(), h.listJournal)
	return s
}

// Serve serves the tools over stdio. It blocks until stdin is closed or the
// context is cancelled.
func Serve(ctx context.Context, provider Candidates, opts Options) error {
	stdio := server.NewStdioServer(NewServer(provider, opts))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func classifyMessageTool() mcp.Tool {
	return mcp.NewTool(ToolClassifyMessage,
		mcp.WithDescription("Classify a message described by its headers as delete, archive, keep or unsubscribe, with confidence and reasons. Does not contact the mailbox."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("From header, e.g. 'Shop <deals@shop.example>'"),
		),
		mcp.WithString("subject", mcp.Description("Subject line")),
		mcp.WithString("snippet", mcp.Description("Short body preview")),
		mcp.WithArray("labels",
			mcp.Description("Provider labels, e.g. INBOX, CATEGORY_PROMOTIONS, STARRED"),
			mcp.WithStringItems(),
		),
		mcp.WithString("date", mcp.Description("Message date (RFC 3339 or YYYY-MM-DD, default now)")),
		mcp.WithBoolean("has_attachments", mcp.Description("Whether the message carries attachments")),
		mcp.WithString("list_unsubscribe", mcp.Description("Raw List-Unsubscribe header")),
		mcp.WithString("list_unsubscribe_post", mcp.Description("Raw List-Unsubscribe-Post header")),
		mcp.WithNumber("thread_message_count", mcp.Description("Messages in the thread (default 1)")),
		withMode(false),
	)
}

func listCandidatesTool() mcp.Tool {
	return mcp.NewTool(ToolListCandidates,
		mcp.WithDescription("Fetch one page of inbox candidates for a review mode, classified and grouped by sender. Pass next_page_token back to continue."),
		mcp.WithReadOnlyHintAnnotation(true),
		withMode(true),
		mcp.WithString("page_token", mcp.Description("Token from a previous call")),
	)
}

func getMessageBodyTool() mcp.Tool {
	return mcp.NewTool(ToolGetMessageBody,
		mcp.WithDescription("Get the full decoded body of a message by provider message ID. HTML is sanitized."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Provider message ID (from list_candidates)"),
		),
	)
}

func listJournalTool() mcp.Tool {
	return mcp.NewTool(ToolListJournal,
		mcp.WithDescription("List committed delete, archive and unsubscribe actions, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("account", mcp.Description("Only commits for this account")),
		withMode(false),
		mcp.WithString("since", mcp.Description("Only commits on or after this date (YYYY-MM-DD)")),
		withLimit("50"),
	)
}
