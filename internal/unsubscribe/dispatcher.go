package unsubscribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"golang.org/x/time/rate"

	"github.com/wesm/inboxsweep/internal/mail"
)

const (
	// DefaultDelay is the pause between consecutive unsubscribe requests.
	DefaultDelay = 500 * time.Millisecond

	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "inboxsweep/1.0"
)

// Method names the mechanism that completed an unsubscribe.
type Method string

const (
	MethodOneClick Method = "one-click"
	MethodHTTPPost Method = "http-post"
	MethodHTTPGet  Method = "http-get"
	MethodMailto   Method = "mailto"
)

// Item is one message to unsubscribe from.
type Item struct {
	ID     string
	Target *mail.UnsubscribeTarget
}

// Outcome records what happened for one item.
type Outcome struct {
	ID     string `json:"id"`
	Method Method `json:"method,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Result is the per-item breakdown of a dispatch run.
type Result struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []string  `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Sender delivers a raw RFC 5322 message, used for mailto targets.
type Sender interface {
	SendMessage(ctx context.Context, raw []byte) error
}

// Dispatcher runs unsubscribe requests strictly sequentially with a fixed
// delay between items.
type Dispatcher struct {
	httpClient *http.Client
	sender     Sender
	limiter    *rate.Limiter
	userAgent  string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithHTTPClient sets the HTTP client used for URL targets.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = hc }
}

// WithDelay sets the pause between items. Zero disables pacing.
func WithDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay <= 0 {
			d.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		d.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
}

// WithUserAgent sets the User-Agent header on HTTP requests.
func WithUserAgent(ua string) Option {
	return func(d *Dispatcher) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

// NewDispatcher creates a dispatcher. sender may be nil, in which case
// mailto targets fail.
func NewDispatcher(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		httpClient: &http.Client{Timeout: defaultTimeout},
		sender:     sender,
		limiter:    rate.NewLimiter(rate.Every(DefaultDelay), 1),
		userAgent:  defaultUserAgent,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run attempts every item in order. Individual failures are recorded in the
// result; only context cancellation stops the run early, and any items not
// attempted are reported as failed.
func (d *Dispatcher) Run(ctx context.Context, items []Item) Result {
	res := Result{Succeeded: []string{}, Failed: []string{}}
	for i, item := range items {
		if err := d.limiter.Wait(ctx); err != nil {
			for _, rest := range items[i:] {
				res.Failed = append(res.Failed, rest.ID)
				res.Outcomes = append(res.Outcomes, Outcome{ID: rest.ID, Err: err.Error()})
			}
			return res
		}

		method, err := d.unsubscribe(ctx, item.Target)
		if err != nil {
			d.logger.Warn("unsubscribe failed", "id", item.ID, "error", err)
			res.Failed = append(res.Failed, item.ID)
			res.Outcomes = append(res.Outcomes, Outcome{ID: item.ID, Err: err.Error()})
			continue
		}
		d.logger.Debug("unsubscribed", "id", item.ID, "method", method)
		res.Succeeded = append(res.Succeeded, item.ID)
		res.Outcomes = append(res.Outcomes, Outcome{ID: item.ID, Method: method})
	}
	return res
}

// unsubscribe tries one-click POST, then plain POST and GET on each URL,
// then mailto.
func (d *Dispatcher) unsubscribe(ctx context.Context, t *mail.UnsubscribeTarget) (Method, error) {
	if !t.Usable() {
		return "", fmt.Errorf("no unsubscribe mechanism")
	}

	var errs []string
	if t.OneClick {
		for _, u := range httpsOnly(t.URLs) {
			err := d.do(ctx, http.MethodPost, u, "application/x-www-form-urlencoded", oneClickValue)
			if err == nil {
				return MethodOneClick, nil
			}
			errs = append(errs, err.Error())
		}
	}
	for _, u := range t.URLs {
		for _, m := range []Method{MethodHTTPPost, MethodHTTPGet} {
			verb := http.MethodPost
			if m == MethodHTTPGet {
				verb = http.MethodGet
			}
			err := d.do(ctx, verb, u, "", "")
			if err == nil {
				return m, nil
			}
			errs = append(errs, err.Error())
		}
	}
	if t.Mailto != "" {
		err := d.sendMailto(ctx, t.Mailto)
		if err == nil {
			return MethodMailto, nil
		}
		errs = append(errs, err.Error())
	}
	return "", fmt.Errorf("all mechanisms failed: %s", strings.Join(errs, "; "))
}

func httpsOnly(urls []string) []string {
	var out []string
	for _, u := range urls {
		if strings.HasPrefix(strings.ToLower(u), "https://") {
			out = append(out, u)
		}
	}
	return out
}

func (d *Dispatcher) do(ctx context.Context, method, target, contentType, body string) error {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, hostOf(target), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", method, hostOf(target), resp.StatusCode)
	}
	return nil
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

// sendMailto composes the message a mailto URI describes and sends it.
func (d *Dispatcher) sendMailto(ctx context.Context, uri string) error {
	if d.sender == nil {
		return fmt.Errorf("mailto: no sender configured")
	}
	raw, err := composeMailto(uri, d.now())
	if err != nil {
		return err
	}
	if err := d.sender.SendMessage(ctx, raw); err != nil {
		return fmt.Errorf("mailto: send: %w", err)
	}
	return nil
}

func composeMailto(uri string, now time.Time) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("mailto: parse: %w", err)
	}
	to := mailtoAddress(u)
	if to == "" {
		return nil, fmt.Errorf("mailto: missing recipient")
	}
	q := u.Query()
	subject := q.Get("subject")
	if subject == "" {
		subject = "unsubscribe"
	}
	body := q.Get("body")
	if body == "" {
		body = "unsubscribe"
	}

	var h gomail.Header
	h.SetDate(now)
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	var rcpts []*gomail.Address
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			rcpts = append(rcpts, &gomail.Address{Address: addr})
		}
	}
	h.SetAddressList("To", rcpts)

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("mailto: compose: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("mailto: compose: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("mailto: compose: %w", err)
	}
	return buf.Bytes(), nil
}
