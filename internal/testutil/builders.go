package testutil

import (
	"time"

	"github.com/wesm/inboxsweep/internal/mail"
)

// MessageBuilder builds ClassifiedMessage values for tests.
type MessageBuilder struct {
	m mail.ClassifiedMessage
}

// NewMessage starts a message with an inbox label, a sender derived from id
// and a delete classification.
func NewMessage(id string) *MessageBuilder {
	return &MessageBuilder{m: mail.ClassifiedMessage{
		Message: mail.Message{
			ID:                 id,
			ThreadID:           "thread-" + id,
			From:               mail.Sender{Name: id, Email: id + "@example.com"},
			Subject:            "Subject " + id,
			Date:               time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Labels:             []string{mail.LabelInbox},
			ThreadMessageCount: 1,
		},
		Classification: mail.Classification{Action: mail.ActionDelete, Confidence: 0.9, Reasons: []string{"Promotional email"}},
	}}
}

// From sets the sender.
func (b *MessageBuilder) From(name, email string) *MessageBuilder {
	b.m.From = mail.Sender{Name: name, Email: email}
	return b
}

// Subject sets the subject.
func (b *MessageBuilder) Subject(s string) *MessageBuilder {
	b.m.Subject = s
	return b
}

// Snippet sets the snippet.
func (b *MessageBuilder) Snippet(s string) *MessageBuilder {
	b.m.Snippet = s
	return b
}

// Labels appends provider labels.
func (b *MessageBuilder) Labels(labels ...string) *MessageBuilder {
	b.m.Labels = append(b.m.Labels, labels...)
	b.m.IsUnread = b.m.HasLabel(mail.LabelUnread)
	b.m.IsStarred = b.m.HasLabel(mail.LabelStarred)
	return b
}

// Date sets the message date.
func (b *MessageBuilder) Date(t time.Time) *MessageBuilder {
	b.m.Date = t
	return b
}

// Unsubscribe attaches an unsubscribe target with the given URLs.
func (b *MessageBuilder) Unsubscribe(oneClick bool, urls ...string) *MessageBuilder {
	b.m.HasListUnsubscribe = true
	b.m.Unsubscribe = &mail.UnsubscribeTarget{URLs: urls, OneClick: oneClick && len(urls) > 0}
	return b
}

// Classified sets the classification.
func (b *MessageBuilder) Classified(action mail.Action, confidence float64, reasons ...string) *MessageBuilder {
	b.m.Classification = mail.Classification{Action: action, Confidence: confidence, Reasons: reasons}
	return b
}

// Build returns the message.
func (b *MessageBuilder) Build() mail.ClassifiedMessage {
	return b.m
}

// BuildPtr returns a pointer to a copy of the message.
func (b *MessageBuilder) BuildPtr() *mail.ClassifiedMessage {
	m := b.m
	return &m
}
