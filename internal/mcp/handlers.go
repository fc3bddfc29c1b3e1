package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wesm/inboxsweep/internal/classify"
	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/gmail"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/store"
	"github.com/wesm/inboxsweep/internal/unsubscribe"
)

const maxLimit = 500

type handlers struct {
	provider  Candidates
	journal   Journal
	userEmail string
	now       func() time.Time
}

// candidatePage is the list_candidates result.
type candidatePage struct {
	Messages      []mail.ClassifiedMessage `json:"messages"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// modeArg extracts a review mode, falling back to def when absent.
func modeArg(args map[string]any, def mail.Mode) (mail.Mode, error) {
	v := stringArg(args, "mode")
	if v == "" {
		if def == "" {
			return "", fmt.Errorf("mode parameter is required")
		}
		return def, nil
	}
	return mail.ParseMode(v)
}

// getDateArg extracts an optional date (RFC 3339 or YYYY-MM-DD).
func getDateArg(args map[string]any, key string) (*time.Time, error) {
	v := stringArg(args, key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s date %q: expected YYYY-MM-DD", key, v)
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (h *handlers) classifyMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	from := stringArg(args, "from")
	if from == "" {
		return mcp.NewToolResultError("from parameter is required"), nil
	}
	mode, err := modeArg(args, mail.ModeDelete)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	date, err := getDateArg(args, "date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	now := h.now()
	msg := &mail.Message{
		From:               gateway.ParseSender(from),
		Subject:            stringArg(args, "subject"),
		Snippet:            stringArg(args, "snippet"),
		Date:               now,
		Labels:             stringsArg(args, "labels"),
		ThreadMessageCount: max(limitArg(args, "thread_message_count", 1), 1),
	}
	if date != nil {
		msg.Date = *date
	}
	msg.HasAttachments, _ = args["has_attachments"].(bool)
	listUnsub := stringArg(args, "list_unsubscribe")
	msg.HasListUnsubscribe = listUnsub != ""
	msg.Unsubscribe = unsubscribe.ParseHeaders(listUnsub, stringArg(args, "list_unsubscribe_post"))
	msg.IsUnread = msg.HasLabel(mail.LabelUnread)
	msg.IsStarred = msg.HasLabel(mail.LabelStarred)

	c := classify.ForMode(mode, msg, classify.Context{UserEmail: h.userEmail, Now: now})
	return jsonResult(c)
}

func (h *handlers) listCandidates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	mode, err := modeArg(args, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := h.provider.ListMessages(ctx, mode, stringArg(args, "page_token"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list candidates failed: %v", err)), nil
	}
	out := candidatePage{Messages: page.Messages, NextPageToken: page.NextPageToken}
	if out.Messages == nil {
		out.Messages = []mail.ClassifiedMessage{}
	}
	return jsonResult(out)
}

func (h *handlers) getMessageBody(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(req.GetArguments(), "id")
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	body, err := h.provider.GetMessageBody(ctx, id)
	if err != nil {
		if gmail.IsNotFound(err) {
			return mcp.NewToolResultError("message not found"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("get message body failed: %v", err)), nil
	}
	return jsonResult(body)
}

func (h *handlers) listJournal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.journal == nil {
		return mcp.NewToolResultError("journal is not configured"), nil
	}
	args := req.GetArguments()

	opts := store.ListOptions{
		Account: stringArg(args, "account"),
		Limit:   limitArg(args, "limit", 50),
	}
	if stringArg(args, "mode") != "" {
		mode, err := modeArg(args, "")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts.Mode = mode
	}
	since, err := getDateArg(args, "since")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if since != nil {
		opts.Since = *since
	}
	if opts.Limit == 0 {
		return jsonResult([]*store.CommitRecord{})
	}

	commits, err := h.journal.ListCommits(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list journal failed: %v", err)), nil
	}
	return jsonResult(commits)
}

func limitArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) || v > float64(maxLimit) {
		return maxLimit
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
