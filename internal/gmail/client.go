package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

	// MaxRetries bounds retries of rate-limited requests. Nothing else is retried.
	MaxRetries = 3

	baseBackoff = time.Second
	maxJitter   = time.Second

	// MaxListResults is the largest page the messages.list endpoint returns.
	MaxListResults = 500

	// MaxBatchSize is the id limit of batchDelete and batchModify.
	MaxBatchSize = 1000
)

// Client implements the Gmail API interface.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *RateLimiter
	logger      *slog.Logger
	userID      string // "me" for authenticated user
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func() time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

// WithHTTPClient replaces the OAuth-authenticated HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL points the client at a different API root (used by tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// NewClient creates a new Gmail API client.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		userID:  "me",
		logger:  slog.Default(),
		sleep:   sleepCtx,
		jitter:  func() time.Duration { return rand.N(maxJitter) },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = oauth2.NewClient(context.Background(), tokenSource)
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(defaultQPS)
	}
	return c
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NotFoundError indicates a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// APIError is a non-retryable error response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return "unauthorized (401): token may be invalid"
	case http.StatusForbidden:
		return fmt.Sprintf("forbidden (403): %s", e.Body)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Body)
}

// RateLimitError is returned when retries are exhausted on rate-limit responses.
type RateLimitError struct {
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%d)", e.StatusCode)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInsufficientScope reports whether err is a 403 caused by missing OAuth scopes.
func IsInsufficientScope(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		return false
	}
	return strings.Contains(apiErr.Body, "insufficientPermissions") ||
		strings.Contains(apiErr.Body, "ACCESS_TOKEN_SCOPE_INSUFFICIENT")
}

// request makes an HTTP request with rate limiting. Only rate-limit responses
// (429, or 403 with a rate-limit reason) are retried, up to MaxRetries times
// with exponential backoff and jitter. bodyBytes can be nil.
func (c *Client) request(ctx context.Context, op Operation, method, path string, bodyBytes []byte) ([]byte, error) {
	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt - 1)
			c.logger.Debug("retrying rate-limited request", "attempt", attempt, "backoff", backoff, "path", path)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		if err := c.rateLimiter.Acquire(ctx, op); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}

		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.logger.Debug("rate limited", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(baseBackoff)
			lastErr = &RateLimitError{StatusCode: resp.StatusCode}
			continue
		case resp.StatusCode == http.StatusForbidden && isRateLimitError(respBody):
			c.logger.Debug("quota exceeded", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(baseBackoff)
			lastErr = &RateLimitError{StatusCode: resp.StatusCode}
			continue
		case resp.StatusCode == http.StatusNotFound:
			return nil, &NotFoundError{Path: path}
		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// backoff returns the delay before retry n (0-based): 1s, 2s, 4s plus up to
// one second of jitter.
func (c *Client) backoff(n int) time.Duration {
	return baseBackoff*time.Duration(1<<uint(n)) + c.jitter()
}

// isRateLimitError checks if a 403 response is actually a rate limit error.
// Gmail returns 403 with "rateLimitExceeded" for quota exceeded instead of 429.
func isRateLimitError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("Quota exceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}

// decodeBase64URL decodes a base64url-encoded string, tolerating optional padding.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// Gmail API JSON response types.

type profileResponse struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
}

type gmailMessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listMessagesResponse struct {
	Messages           []gmailMessageRef `json:"messages"`
	NextPageToken      string            `json:"nextPageToken"`
	ResultSizeEstimate int64             `json:"resultSizeEstimate"`
}

type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type messagePart struct {
	Filename string          `json:"filename"`
	MimeType string          `json:"mimeType"`
	Headers  []messageHeader `json:"headers"`
	Parts    []messagePart   `json:"parts"`
}

type messageResponse struct {
	ID           string       `json:"id"`
	ThreadID     string       `json:"threadId"`
	LabelIDs     []string     `json:"labelIds"`
	Snippet      string       `json:"snippet"`
	InternalDate string       `json:"internalDate"`
	Payload      *messagePart `json:"payload"`
	Raw          string       `json:"raw"` // base64url encoded (unpadded)
}

type threadResponse struct {
	ID       string            `json:"id"`
	Messages []gmailMessageRef `json:"messages"`
}

// hasNamedPart reports whether any part in the tree carries a filename.
func hasNamedPart(p *messagePart) bool {
	if p == nil {
		return false
	}
	if p.Filename != "" {
		return true
	}
	for i := range p.Parts {
		if hasNamedPart(&p.Parts[i]) {
			return true
		}
	}
	return false
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, OpProfile, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
	}, nil
}

// ListMessages returns message IDs matching the query.
func (c *Client) ListMessages(ctx context.Context, query, pageToken string, maxResults int) (*MessageListResponse, error) {
	if maxResults <= 0 || maxResults > MaxListResults {
		maxResults = MaxListResults
	}
	params := url.Values{}
	params.Set("maxResults", strconv.Itoa(maxResults))
	if query != "" {
		params.Set("q", query)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/%s/messages?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpMessagesList, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}

	messages := make([]MessageID, len(resp.Messages))
	for i, m := range resp.Messages {
		messages[i] = MessageID(m)
	}
	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}, nil
}

// GetMessageMetadata fetches a message in metadata format with the given headers.
func (c *Client) GetMessageMetadata(ctx context.Context, messageID string, headers ...string) (*MessageMetadata, error) {
	params := url.Values{}
	params.Set("format", "metadata")
	for _, h := range headers {
		params.Add("metadataHeaders", h)
	}
	path := fmt.Sprintf("/users/%s/messages/%s?%s", c.userID, url.PathEscape(messageID), params.Encode())
	data, err := c.request(ctx, OpMessagesGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp messageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	internalDate, _ := strconv.ParseInt(resp.InternalDate, 10, 64)
	meta := &MessageMetadata{
		ID:             resp.ID,
		ThreadID:       resp.ThreadID,
		LabelIDs:       resp.LabelIDs,
		Snippet:        resp.Snippet,
		InternalDate:   internalDate,
		Headers:        make(map[string]string),
		HasAttachments: hasNamedPart(resp.Payload),
	}
	if resp.Payload != nil {
		for _, h := range resp.Payload.Headers {
			if _, ok := meta.Headers[h.Name]; !ok {
				meta.Headers[h.Name] = h.Value
			}
		}
	}
	return meta, nil
}

// GetThreadMessageCount returns the number of messages in a thread.
func (c *Client) GetThreadMessageCount(ctx context.Context, threadID string) (int, error) {
	path := fmt.Sprintf("/users/%s/threads/%s?format=minimal", c.userID, url.PathEscape(threadID))
	data, err := c.request(ctx, OpThreadsGet, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	var resp threadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("parse thread: %w", err)
	}
	return len(resp.Messages), nil
}

// GetMessageRaw fetches a single message with raw MIME data.
func (c *Client) GetMessageRaw(ctx context.Context, messageID string) (*RawMessage, error) {
	path := fmt.Sprintf("/users/%s/messages/%s?format=raw", c.userID, url.PathEscape(messageID))
	data, err := c.request(ctx, OpMessagesGetRaw, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp messageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	rawBytes, err := decodeBase64URL(resp.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw MIME: %w", err)
	}
	internalDate, _ := strconv.ParseInt(resp.InternalDate, 10, 64)

	return &RawMessage{
		ID:           resp.ID,
		ThreadID:     resp.ThreadID,
		LabelIDs:     resp.LabelIDs,
		Snippet:      resp.Snippet,
		InternalDate: internalDate,
		Raw:          rawBytes,
	}, nil
}

// TrashMessage moves a message to trash.
func (c *Client) TrashMessage(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/users/%s/messages/%s/trash", c.userID, url.PathEscape(messageID))
	_, err := c.request(ctx, OpMessagesTrash, http.MethodPost, path, nil)
	return err
}

// BatchDeleteMessages permanently deletes multiple messages.
func (c *Client) BatchDeleteMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) > MaxBatchSize {
		return fmt.Errorf("batch delete limited to %d messages, got %d", MaxBatchSize, len(messageIDs))
	}

	bodyBytes, err := json.Marshal(struct {
		IDs []string `json:"ids"`
	}{IDs: messageIDs})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/batchDelete", c.userID)
	_, err = c.request(ctx, OpMessagesBatchDelete, http.MethodPost, path, bodyBytes)
	return err
}

// BatchModifyMessages adds and removes labels on multiple messages.
func (c *Client) BatchModifyMessages(ctx context.Context, messageIDs, addLabels, removeLabels []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) > MaxBatchSize {
		return fmt.Errorf("batch modify limited to %d messages, got %d", MaxBatchSize, len(messageIDs))
	}

	bodyBytes, err := json.Marshal(struct {
		IDs            []string `json:"ids"`
		AddLabelIDs    []string `json:"addLabelIds,omitempty"`
		RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	}{IDs: messageIDs, AddLabelIDs: addLabels, RemoveLabelIDs: removeLabels})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/batchModify", c.userID)
	_, err = c.request(ctx, OpMessagesBatchModify, http.MethodPost, path, bodyBytes)
	return err
}

// SendMessage sends a raw RFC 5322 message from the authenticated account.
func (c *Client) SendMessage(ctx context.Context, raw []byte) error {
	bodyBytes, err := json.Marshal(struct {
		Raw string `json:"raw"`
	}{Raw: base64.RawURLEncoding.EncodeToString(raw)})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	path := fmt.Sprintf("/users/%s/messages/send", c.userID)
	_, err = c.request(ctx, OpMessagesSend, http.MethodPost, path, bodyBytes)
	return err
}

// Ensure Client implements API interface.
var _ API = (*Client)(nil)
