package imap

import (
	"bufio"
	"bytes"
	"fmt"
	"html"
	"io"
	nettextproto "net/textproto"
	"slices"
	"strconv"
	"strings"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/mime"
	"github.com/wesm/inboxsweep/internal/textutil"
)

// search is a Gmail-style query translated to an IMAP mailbox and criteria.
type search struct {
	mailbox  string
	criteria imap.SearchCriteria
}

// parseQuery understands the subset of Gmail search syntax the gateway
// issues: in:<mailbox>, is:/-is: starred|unread, older_than:<n>d|m|y and
// from:<addr>. Other terms are rejected.
func parseQuery(query string, now time.Time) (*search, error) {
	s := &search{mailbox: "INBOX"}
	for _, term := range strings.Fields(query) {
		neg := strings.HasPrefix(term, "-")
		key, val, ok := strings.Cut(strings.TrimPrefix(term, "-"), ":")
		if !ok {
			return nil, fmt.Errorf("unsupported query term %q", term)
		}
		switch key {
		case "in":
			if strings.EqualFold(val, "inbox") {
				val = "INBOX"
			}
			s.mailbox = val
		case "is":
			var flag imap.Flag
			invert := false
			switch val {
			case "starred":
				flag = imap.FlagFlagged
			case "unread":
				flag, invert = imap.FlagSeen, true
			case "read":
				flag = imap.FlagSeen
			default:
				return nil, fmt.Errorf("unsupported query term %q", term)
			}
			if neg != invert {
				s.criteria.NotFlag = append(s.criteria.NotFlag, flag)
			} else {
				s.criteria.Flag = append(s.criteria.Flag, flag)
			}
		case "older_than":
			d, err := parseAge(val)
			if err != nil {
				return nil, fmt.Errorf("query term %q: %w", term, err)
			}
			s.criteria.Before = now.Add(-d)
		case "from":
			s.criteria.Header = append(s.criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: val})
		default:
			return nil, fmt.Errorf("unsupported query term %q", term)
		}
	}
	return s, nil
}

func parseAge(v string) (time.Duration, error) {
	if len(v) < 2 {
		return 0, fmt.Errorf("invalid age %q", v)
	}
	n, err := strconv.Atoi(v[:len(v)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid age %q", v)
	}
	day := 24 * time.Hour
	switch v[len(v)-1] {
	case 'd':
		return time.Duration(n) * day, nil
	case 'm':
		return time.Duration(n) * 30 * day, nil
	case 'y':
		return time.Duration(n) * 365 * day, nil
	}
	return 0, fmt.Errorf("invalid age unit in %q", v)
}

// pageUIDs returns up to max UIDs below the page token, newest first, and
// the token for the following page. Tokens are the last UID returned, so
// pages stay stable while earlier messages are removed.
func pageUIDs(uids []imap.UID, pageToken string, max int) ([]imap.UID, string, error) {
	var below imap.UID
	if pageToken != "" {
		n, err := strconv.ParseUint(pageToken, 10, 32)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token %q", pageToken)
		}
		below = imap.UID(n)
	}

	sorted := slices.Clone(uids)
	slices.SortFunc(sorted, func(a, b imap.UID) int { return int(b) - int(a) })

	var page []imap.UID
	for _, uid := range sorted {
		if below != 0 && uid >= below {
			continue
		}
		if len(page) == max {
			return page, strconv.FormatUint(uint64(page[len(page)-1]), 10), nil
		}
		page = append(page, uid)
	}
	return page, "", nil
}

// flagLabels maps IMAP flags on a message in mailbox to Gmail-style labels.
func flagLabels(mailbox string, flags []imap.Flag) []string {
	var labels []string
	if strings.EqualFold(mailbox, "INBOX") {
		labels = append(labels, mail.LabelInbox)
	} else {
		labels = append(labels, mailbox)
	}
	if !slices.Contains(flags, imap.FlagSeen) {
		labels = append(labels, mail.LabelUnread)
	}
	if slices.Contains(flags, imap.FlagFlagged) {
		labels = append(labels, mail.LabelStarred)
	}
	return labels
}

// parseHeaders reads a raw header block into a map of first values.
func parseHeaders(raw []byte) (map[string]string, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse headers: %w", err)
	}
	out := make(map[string]string)
	fields := h.Fields()
	for fields.Next() {
		key := nettextproto.CanonicalMIMEHeaderKey(fields.Key())
		if _, ok := out[key]; !ok {
			out[key] = fields.Value()
		}
	}
	return out, nil
}

// textPart locates the first text/plain leaf, falling back to text/html.
func textPart(bs imap.BodyStructure) (path []int, part *imap.BodyStructureSinglePart) {
	var html []int
	var htmlPart *imap.BodyStructureSinglePart
	bs.Walk(func(p []int, s imap.BodyStructure) bool {
		single, ok := s.(*imap.BodyStructureSinglePart)
		if !ok || part != nil {
			return part == nil
		}
		if d := single.Disposition(); d != nil && strings.EqualFold(d.Value, "attachment") {
			return false
		}
		switch strings.ToLower(single.MediaType()) {
		case "text/plain":
			path, part = slices.Clone(p), single
		case "text/html":
			if htmlPart == nil {
				html, htmlPart = slices.Clone(p), single
			}
		}
		return true
	})
	if part == nil {
		return html, htmlPart
	}
	if len(path) == 0 {
		// Single-part messages address their body as part 1.
		path = []int{1}
	}
	return path, part
}

// hasAttachments reports whether any leaf is named or marked as an attachment.
func hasAttachments(bs imap.BodyStructure) bool {
	found := false
	bs.Walk(func(_ []int, s imap.BodyStructure) bool {
		if single, ok := s.(*imap.BodyStructureSinglePart); ok {
			d := single.Disposition()
			if single.Filename() != "" || (d != nil && strings.EqualFold(d.Value, "attachment")) {
				found = true
			}
		}
		return !found
	})
	return found
}

const snippetLen = 200

// decodeSnippet decodes a (possibly truncated) body part and collapses it to
// a single line of at most snippetLen runes.
func decodeSnippet(part *imap.BodyStructureSinglePart, raw []byte) string {
	var h message.Header
	var params map[string]string
	if cs := part.Params["charset"]; cs != "" {
		params = map[string]string{"charset": cs}
	}
	h.SetContentType(part.MediaType(), params)
	h.Set("Content-Transfer-Encoding", part.Encoding)

	text := raw
	if e, err := message.New(h, bytes.NewReader(raw)); err == nil || message.IsUnknownCharset(err) {
		// Truncated base64 or quoted-printable fails at the tail; keep what decoded.
		text, _ = io.ReadAll(e.Body)
	}

	s := textutil.EnsureUTF8(string(text))
	if strings.EqualFold(part.MediaType(), "text/html") {
		s = html.UnescapeString(mime.StrictText(s))
	}
	return textutil.TruncateRunes(strings.Join(strings.Fields(s), " "), snippetLen)
}
