// Package email builds raw RFC 5322 messages for tests.
package email

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Attachment represents a MIME attachment for the builder.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte // raw bytes; will be base64-encoded
}

// MessageBuilder constructs messages with a fluent API. Output always uses
// CRLF line endings.
type MessageBuilder struct {
	from        string
	to          string
	subject     string
	date        string
	text        string
	html        string
	headerKeys  []string
	headerVals  []string
	attachments []Attachment
	noSubject   bool
}

// NewMessage creates a MessageBuilder with sensible defaults.
func NewMessage() *MessageBuilder {
	return &MessageBuilder{
		from:    "sender@example.com",
		to:      "recipient@example.com",
		date:    "Mon, 01 Jan 2024 12:00:00 +0000",
		subject: "Test Message",
		text:    "This is a test message body.",
	}
}

// From sets the From header.
func (b *MessageBuilder) From(v string) *MessageBuilder { b.from = v; return b }

// To sets the To header.
func (b *MessageBuilder) To(v string) *MessageBuilder { b.to = v; return b }

// Subject sets the Subject header. Use NoSubject() to omit it entirely.
func (b *MessageBuilder) Subject(v string) *MessageBuilder { b.subject = v; b.noSubject = false; return b }

// NoSubject omits the Subject header from the output.
func (b *MessageBuilder) NoSubject() *MessageBuilder { b.noSubject = true; return b }

// Date sets the Date header.
func (b *MessageBuilder) Date(v string) *MessageBuilder { b.date = v; return b }

// Text sets the plain text body.
func (b *MessageBuilder) Text(v string) *MessageBuilder { b.text = v; return b }

// HTML sets an HTML body. With a text body too, the message becomes
// multipart/alternative.
func (b *MessageBuilder) HTML(v string) *MessageBuilder { b.html = v; return b }

// Header adds an arbitrary header.
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	b.headerKeys = append(b.headerKeys, key)
	b.headerVals = append(b.headerVals, value)
	return b
}

// ListUnsubscribe adds a List-Unsubscribe header with the given URIs and,
// when oneClick is set, the RFC 8058 List-Unsubscribe-Post header.
func (b *MessageBuilder) ListUnsubscribe(oneClick bool, uris ...string) *MessageBuilder {
	wrapped := make([]string, len(uris))
	for i, u := range uris {
		wrapped[i] = "<" + u + ">"
	}
	b.Header("List-Unsubscribe", strings.Join(wrapped, ", "))
	if oneClick {
		b.Header("List-Unsubscribe-Post", "List-Unsubscribe=One-Click")
	}
	return b
}

// WithAttachment adds an attachment to the message.
func (b *MessageBuilder) WithAttachment(filename, contentType string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	})
	return b
}

// HeaderBytes returns only the header block, terminated by a blank line.
func (b *MessageBuilder) HeaderBytes() []byte {
	raw := b.Bytes()
	if i := strings.Index(string(raw), "\r\n\r\n"); i >= 0 {
		return raw[:i+4]
	}
	return raw
}

const nl = "\r\n"

// Bytes builds the complete message.
func (b *MessageBuilder) Bytes() []byte {
	var s strings.Builder

	s.WriteString("From: " + b.from + nl)
	s.WriteString("To: " + b.to + nl)
	if !b.noSubject {
		s.WriteString("Subject: " + b.subject + nl)
	}
	if b.date != "" {
		s.WriteString("Date: " + b.date + nl)
	}
	for i, k := range b.headerKeys {
		s.WriteString(k + ": " + b.headerVals[i] + nl)
	}
	s.WriteString("MIME-Version: 1.0" + nl)

	if len(b.attachments) == 0 {
		b.writeBody(&s)
		return []byte(s.String())
	}

	s.WriteString(`Content-Type: multipart/mixed; boundary="mixed-boundary"` + nl + nl)
	s.WriteString("--mixed-boundary" + nl)
	b.writeBody(&s)
	for _, att := range b.attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		s.WriteString("--mixed-boundary" + nl)
		s.WriteString(fmt.Sprintf("Content-Type: %s; name=%q", ct, att.Filename) + nl)
		s.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=%q", att.Filename) + nl)
		s.WriteString("Content-Transfer-Encoding: base64" + nl + nl)
		s.WriteString(base64.StdEncoding.EncodeToString(att.Data) + nl)
	}
	s.WriteString("--mixed-boundary--" + nl)
	return []byte(s.String())
}

// writeBody writes the body part headers and content.
func (b *MessageBuilder) writeBody(s *strings.Builder) {
	switch {
	case b.html != "" && b.text != "":
		s.WriteString(`Content-Type: multipart/alternative; boundary="alt-boundary"` + nl + nl)
		s.WriteString("--alt-boundary" + nl)
		s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl + nl)
		s.WriteString(b.text + nl)
		s.WriteString("--alt-boundary" + nl)
		s.WriteString(`Content-Type: text/html; charset="utf-8"` + nl + nl)
		s.WriteString(b.html + nl)
		s.WriteString("--alt-boundary--" + nl)
	case b.html != "":
		s.WriteString(`Content-Type: text/html; charset="utf-8"` + nl + nl)
		s.WriteString(b.html + nl)
	default:
		s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl + nl)
		s.WriteString(b.text + nl)
	}
}
