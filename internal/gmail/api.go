// Package gmail provides a Gmail API client with rate limiting and retry logic.
package gmail

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupported is returned by backends that cannot perform an operation
// (for example sending mail over IMAP).
var ErrUnsupported = errors.New("operation not supported by this provider")

// AccountReader provides read access to account-level data.
type AccountReader interface {
	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)
}

// MessageReader provides read access to messages.
type MessageReader interface {
	// ListMessages returns message IDs matching the query. Use pageToken for
	// pagination; maxResults <= 0 uses the provider maximum.
	ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListResponse, error)

	// GetMessageMetadata fetches labels, snippet and the requested headers.
	GetMessageMetadata(ctx context.Context, messageID string, headers ...string) (*MessageMetadata, error)

	// GetThreadMessageCount returns the number of messages in a thread.
	GetThreadMessageCount(ctx context.Context, threadID string) (int, error)

	// GetMessageRaw fetches a single message with raw MIME data.
	GetMessageRaw(ctx context.Context, messageID string) (*RawMessage, error)
}

// MessageModifier provides the bulk mutations a review session commits.
type MessageModifier interface {
	// TrashMessage moves a message to trash (recoverable for 30 days).
	TrashMessage(ctx context.Context, messageID string) error

	// BatchDeleteMessages permanently deletes multiple messages (max 1000).
	BatchDeleteMessages(ctx context.Context, messageIDs []string) error

	// BatchModifyMessages adds and removes labels on up to 1000 messages.
	BatchModifyMessages(ctx context.Context, messageIDs, addLabels, removeLabels []string) error
}

// MessageSender sends mail from the authenticated account.
type MessageSender interface {
	// SendMessage sends an RFC 5322 message.
	SendMessage(ctx context.Context, raw []byte) error
}

// API defines the interface for mailbox operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	AccountReader
	MessageReader
	MessageModifier
	MessageSender

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
}

// MessageListResponse contains a page of message IDs.
type MessageListResponse struct {
	Messages           []MessageID
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageID represents a message reference from list operations.
type MessageID struct {
	ID       string
	ThreadID string
}

// MessageMetadata is a message fetched without its body.
type MessageMetadata struct {
	ID             string
	ThreadID       string
	LabelIDs       []string
	Snippet        string
	InternalDate   int64             // Unix milliseconds
	Headers        map[string]string // canonical header name -> first value
	HasAttachments bool
}

// Header returns the first value of a header, matching names case-insensitively.
func (m *MessageMetadata) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// RawMessage contains the raw MIME data for a message.
type RawMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate int64  // Unix milliseconds
	Raw          []byte // Decoded from base64url
}
