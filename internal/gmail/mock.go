package gmail

import (
	"context"
	"fmt"
	"sync"
)

// MockAPI is an in-memory implementation of API for tests.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Messages indexed by ID
	Messages map[string]*MessageMetadata

	// Raw MIME by message ID, served by GetMessageRaw
	Raw map[string][]byte

	// Message list pages - each page is a list of message IDs. Page tokens
	// are "page_<n>".
	MessagePages [][]string

	// Thread sizes by thread ID; missing threads have one message
	ThreadSizes map[string]int

	// Error injection
	ProfileError      error
	ListMessagesError error
	GetMessageError   map[string]error // Per-message errors
	ThreadError       error
	BatchDeleteError  error
	BatchModifyError  error
	TrashError        map[string]error
	SendError         error

	// BeforeCommit, when set, runs before any batch mutation is applied and
	// can block to let tests observe in-flight state.
	BeforeCommit func()

	// Call tracking for assertions
	ProfileCalls      int
	ListMessagesCalls int
	LastQuery         string
	LastMaxResults    int
	GetMessageCalls   []string
	ThreadCalls       []string
	TrashCalls        []string
	BatchDeleteCalls  [][]string
	BatchModifyCalls  []BatchModifyCall
	SentMessages      [][]byte
}

// BatchModifyCall records one BatchModifyMessages invocation.
type BatchModifyCall struct {
	IDs    []string
	Add    []string
	Remove []string
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]*MessageMetadata),
		Raw:             make(map[string][]byte),
		ThreadSizes:     make(map[string]int),
		GetMessageError: make(map[string]error),
		TrashError:      make(map[string]error),
	}
}

// AddMessage registers message metadata.
func (m *MockAPI) AddMessage(meta *MessageMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta.Headers == nil {
		meta.Headers = make(map[string]string)
	}
	m.Messages[meta.ID] = meta
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{EmailAddress: "test@example.com", MessagesTotal: int64(len(m.Messages))}, nil
	}
	return m.Profile, nil
}

// ListMessages returns mock message IDs with pagination.
func (m *MockAPI) ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastQuery = query
	m.LastMaxResults = maxResults

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	pageNum := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "page_%d", &pageNum); err != nil {
			return nil, fmt.Errorf("invalid page token: %s", pageToken)
		}
	}
	if pageNum >= len(m.MessagePages) {
		return &MessageListResponse{}, nil
	}

	page := m.MessagePages[pageNum]
	messages := make([]MessageID, len(page))
	for i, id := range page {
		threadID := "thread_" + id
		if meta, ok := m.Messages[id]; ok && meta.ThreadID != "" {
			threadID = meta.ThreadID
		}
		messages[i] = MessageID{ID: id, ThreadID: threadID}
	}

	var next string
	if pageNum+1 < len(m.MessagePages) {
		next = fmt.Sprintf("page_%d", pageNum+1)
	}
	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      next,
		ResultSizeEstimate: int64(len(messages)),
	}, nil
}

// GetMessageMetadata returns registered metadata.
func (m *MockAPI) GetMessageMetadata(ctx context.Context, messageID string, headers ...string) (*MessageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err := m.GetMessageError[messageID]; err != nil {
		return nil, err
	}
	meta, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	return meta, nil
}

// GetThreadMessageCount returns the configured thread size, default 1.
func (m *MockAPI) GetThreadMessageCount(ctx context.Context, threadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ThreadCalls = append(m.ThreadCalls, threadID)

	if m.ThreadError != nil {
		return 0, m.ThreadError
	}
	if n, ok := m.ThreadSizes[threadID]; ok {
		return n, nil
	}
	return 1, nil
}

// GetMessageRaw returns registered raw MIME.
func (m *MockAPI) GetMessageRaw(ctx context.Context, messageID string) (*RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err := m.GetMessageError[messageID]; err != nil {
		return nil, err
	}
	raw, ok := m.Raw[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	out := &RawMessage{ID: messageID, Raw: raw}
	if meta, ok := m.Messages[messageID]; ok {
		out.ThreadID = meta.ThreadID
		out.LabelIDs = meta.LabelIDs
		out.Snippet = meta.Snippet
		out.InternalDate = meta.InternalDate
	}
	return out, nil
}

// TrashMessage records the call and removes the message.
func (m *MockAPI) TrashMessage(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrashCalls = append(m.TrashCalls, messageID)
	if err := m.TrashError[messageID]; err != nil {
		return err
	}
	delete(m.Messages, messageID)
	return nil
}

func (m *MockAPI) beforeCommit() {
	m.mu.Lock()
	hook := m.BeforeCommit
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// BatchDeleteMessages records the call and removes the messages.
func (m *MockAPI) BatchDeleteMessages(ctx context.Context, messageIDs []string) error {
	m.beforeCommit()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchDeleteCalls = append(m.BatchDeleteCalls, append([]string(nil), messageIDs...))
	if m.BatchDeleteError != nil {
		return m.BatchDeleteError
	}
	for _, id := range messageIDs {
		delete(m.Messages, id)
	}
	return nil
}

// BatchModifyMessages records the call and applies the label changes.
func (m *MockAPI) BatchModifyMessages(ctx context.Context, messageIDs, addLabels, removeLabels []string) error {
	m.beforeCommit()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchModifyCalls = append(m.BatchModifyCalls, BatchModifyCall{
		IDs:    append([]string(nil), messageIDs...),
		Add:    addLabels,
		Remove: removeLabels,
	})
	if m.BatchModifyError != nil {
		return m.BatchModifyError
	}
	for _, id := range messageIDs {
		meta, ok := m.Messages[id]
		if !ok {
			continue
		}
		meta.LabelIDs = applyLabels(meta.LabelIDs, addLabels, removeLabels)
	}
	return nil
}

func applyLabels(labels, add, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, l := range remove {
		drop[l] = true
	}
	out := make([]string, 0, len(labels)+len(add))
	for _, l := range labels {
		if !drop[l] {
			out = append(out, l)
		}
	}
	return append(out, add...)
}

// SendMessage records the sent message.
func (m *MockAPI) SendMessage(ctx context.Context, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendError != nil {
		return m.SendError
	}
	m.SentMessages = append(m.SentMessages, raw)
	return nil
}

// Close is a no-op.
func (m *MockAPI) Close() error {
	return nil
}

var _ API = (*MockAPI)(nil)
