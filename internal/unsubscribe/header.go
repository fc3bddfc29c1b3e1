// Package unsubscribe parses List-Unsubscribe headers and dispatches
// unsubscribe requests one message at a time.
package unsubscribe

import (
	"net/url"
	"strings"

	"github.com/wesm/inboxsweep/internal/mail"
)

// Header names requested from the provider.
const (
	HeaderListUnsubscribe     = "List-Unsubscribe"
	HeaderListUnsubscribePost = "List-Unsubscribe-Post"

	oneClickValue = "List-Unsubscribe=One-Click"
)

// ParseHeaders builds an UnsubscribeTarget from List-Unsubscribe (RFC 2369)
// and List-Unsubscribe-Post (RFC 8058). It returns nil when the header is
// absent. Entries that are neither http(s) nor mailto are ignored.
func ParseHeaders(listUnsubscribe, listUnsubscribePost string) *mail.UnsubscribeTarget {
	listUnsubscribe = strings.TrimSpace(listUnsubscribe)
	if listUnsubscribe == "" {
		return nil
	}

	t := &mail.UnsubscribeTarget{}
	for _, entry := range splitEntries(listUnsubscribe) {
		u, err := url.Parse(entry)
		if err != nil {
			continue
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			t.URLs = append(t.URLs, entry)
		case "mailto":
			if t.Mailto == "" && mailtoAddress(u) != "" {
				t.Mailto = entry
			}
		}
	}
	t.OneClick = len(t.URLs) > 0 &&
		strings.EqualFold(strings.TrimSpace(listUnsubscribePost), oneClickValue)
	return t
}

// splitEntries extracts the angle-bracketed URIs from a header value. Some
// senders omit the brackets, in which case the comma separated values are used.
func splitEntries(v string) []string {
	var out []string
	for {
		start := strings.IndexByte(v, '<')
		if start < 0 {
			break
		}
		end := strings.IndexByte(v[start:], '>')
		if end < 0 {
			break
		}
		if entry := strings.TrimSpace(v[start+1 : start+end]); entry != "" {
			out = append(out, entry)
		}
		v = v[start+end+1:]
	}
	if len(out) > 0 {
		return out
	}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// mailtoAddress returns the recipient of a mailto URI.
func mailtoAddress(u *url.URL) string {
	addr := u.Opaque
	if addr == "" {
		addr = u.Path
	}
	if unescaped, err := url.PathUnescape(addr); err == nil {
		addr = unescaped
	}
	return strings.TrimSpace(addr)
}
