// Package mail defines the message and classification types shared by the
// classifier, provider gateway and review session.
package mail

import (
	"strings"
	"time"
)

// Well-known provider labels consulted by the classifier.
const (
	LabelInbox      = "INBOX"
	LabelStarred    = "STARRED"
	LabelUnread     = "UNREAD"
	LabelImportant  = "IMPORTANT"
	LabelPromotions = "CATEGORY_PROMOTIONS"
	LabelUpdates    = "CATEGORY_UPDATES"
	LabelSocial     = "CATEGORY_SOCIAL"
	LabelPurchases  = "CATEGORY_PURCHASES"
)

// Sender is the parsed From header of a message.
type Sender struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UnsubscribeTarget holds the mechanisms advertised by a List-Unsubscribe header.
type UnsubscribeTarget struct {
	URLs     []string `json:"urls,omitempty"`     // http(s) URLs in header order
	Mailto   string   `json:"mailto,omitempty"`   // full mailto: URI
	OneClick bool     `json:"oneClick,omitempty"` // List-Unsubscribe-Post: List-Unsubscribe=One-Click
}

// Usable reports whether at least one mechanism can be attempted.
func (t *UnsubscribeTarget) Usable() bool {
	return t != nil && (len(t.URLs) > 0 || t.Mailto != "")
}

// Message is an inbox message as fetched from the provider. It is never
// mutated after construction.
type Message struct {
	ID                 string             `json:"id"`
	ThreadID           string             `json:"threadId"`
	From               Sender             `json:"from"`
	Subject            string             `json:"subject"`
	Snippet            string             `json:"snippet"`
	Date               time.Time          `json:"date"`
	Labels             []string           `json:"labels"`
	HasAttachments     bool               `json:"hasAttachments"`
	HasListUnsubscribe bool               `json:"hasListUnsubscribe"`
	Unsubscribe        *UnsubscribeTarget `json:"unsubscribe,omitempty"`
	IsUnread           bool               `json:"isUnread"`
	IsStarred          bool               `json:"isStarred"`
	ThreadMessageCount int                `json:"threadMessageCount"`
}

// HasLabel reports whether the message carries the given provider label.
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// SenderKey returns the normalized sender address used for sorting and
// sender-level skipping.
func (m *Message) SenderKey() string {
	return NormalizeAddress(m.From.Email)
}

// NormalizeAddress lowercases and trims an email address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
