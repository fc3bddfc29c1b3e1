// Package mime parses full message bodies for the detail view using enmime.
package mime

import (
	"bytes"
	"fmt"
	"html"
	stdmime "mime"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/wesm/inboxsweep/internal/textutil"
)

// Message is what the detail view shows of one message.
type Message struct {
	Subject     string
	From        []Address
	To          []Address
	BodyText    string
	BodyHTML    string
	Attachments []string // file names, inline parts included
	Warnings    []string // recoverable MIME problems reported by enmime
}

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

// String formats the address the way a mail client header shows it.
func (a Address) String() string {
	if a.Name == "" || a.Name == a.Email {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Parse reads a raw RFC 5322 message. Header and body text is repaired to
// valid UTF-8.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	msg := &Message{
		Subject:  textutil.EnsureUTF8(env.GetHeader("Subject")),
		From:     addresses(env, "From"),
		To:       addresses(env, "To"),
		BodyText: textutil.EnsureUTF8(env.Text),
		BodyHTML: textutil.EnsureUTF8(env.HTML),
	}
	for _, part := range append(env.Attachments, env.Inlines...) {
		if name := attachmentName(part); name != "" {
			msg.Attachments = append(msg.Attachments, name)
		}
	}
	for _, e := range env.Errors {
		msg.Warnings = append(msg.Warnings, e.Error())
	}
	return msg, nil
}

func addresses(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	var out []Address
	for _, a := range list {
		if a.Address != "" {
			out = append(out, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
		}
	}
	return out
}

// JoinAddresses renders an address list as a comma separated header value.
func JoinAddresses(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// attachmentName returns the file name of a part a reader would call an
// attachment. Unnamed text parts that enmime could not place in the body
// tree are body fragments and yield "".
func attachmentName(part *enmime.Part) string {
	mediaType, _, _ := stdmime.ParseMediaType(part.ContentType)
	disposition, _, _ := stdmime.ParseMediaType(part.Disposition)
	isText := mediaType == "text/plain" || mediaType == "text/html"
	switch {
	case part.FileName != "":
		return part.FileName
	case isText && disposition != "attachment":
		return ""
	case mediaType != "":
		return "(unnamed " + mediaType + ")"
	default:
		return "(unnamed part)"
	}
}

var (
	blockBoundary = regexp.MustCompile(`(?i)</?(?:p|div|br|hr|h[1-6]|li|tr|td|th|blockquote|pre|table|ul|ol|dl|dt|dd)\b[^>]*>`)
	headElement   = regexp.MustCompile(`(?is)<head\b.*?</head>`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// StripHTML renders HTML as plain text. Block elements become line breaks;
// script and style content is dropped.
func StripHTML(rawHTML string) string {
	text := headElement.ReplaceAllString(rawHTML, "")
	text = blockBoundary.ReplaceAllString(text, "\n")
	text = html.UnescapeString(StrictText(text))
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\u00a0", " ").Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

// GetBodyText returns the best available plain text: the text part, or the
// HTML part stripped of markup.
func (m *Message) GetBodyText() string {
	if m.BodyText != "" {
		return m.BodyText
	}
	return StripHTML(m.BodyHTML)
}
