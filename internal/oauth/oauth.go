// Package oauth provides OAuth2 authorization for Gmail accounts.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/wesm/inboxsweep/internal/fileutil"
)

// ScopeFullAccess is required by messages.batchDelete.
const ScopeFullAccess = "https://mail.google.com/"

// Scopes for the default configuration. Permanent deletion needs full
// mailbox access.
var Scopes = []string{ScopeFullAccess}

// ScopesTrash covers every operation when deletion moves messages to trash:
// listing, label changes, trash, and sending mailto unsubscribe requests.
var ScopesTrash = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.send",
}

// ScopesFor returns the scopes needed for a delete method ("permanent" or
// "trash").
func ScopesFor(deleteMethod string) []string {
	if deleteMethod == "trash" {
		return ScopesTrash
	}
	return Scopes
}

const (
	googleDeviceURL = "https://oauth2.googleapis.com/device/code"
	googleTokenURL  = "https://oauth2.googleapis.com/token"
)

// Manager handles OAuth2 token acquisition and storage.
type Manager struct {
	config    *oauth2.Config
	tokensDir string
	logger    *slog.Logger
	out       io.Writer

	deviceURL string
	tokenURL  string
}

// NewManager creates an OAuth manager from a client secrets file.
func NewManager(clientSecretsPath, tokensDir string, logger *slog.Logger, scopes []string) (*Manager, error) {
	data, err := os.ReadFile(clientSecretsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}

	config, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:    config,
		tokensDir: tokensDir,
		logger:    logger,
		out:       os.Stdout,
		deviceURL: googleDeviceURL,
		tokenURL:  googleTokenURL,
	}, nil
}

// TokenSource returns an auto-refreshing token source for the account.
// Refreshed tokens are persisted.
func (m *Manager) TokenSource(ctx context.Context, email string) (oauth2.TokenSource, error) {
	tf, err := m.loadTokenFile(email)
	if err != nil {
		return nil, fmt.Errorf("no valid token for %s: %w", email, err)
	}
	if missing := m.missingScopes(tf); len(missing) > 0 {
		return nil, fmt.Errorf("token for %s lacks scopes %s; run add-account again", email, strings.Join(missing, ", "))
	}

	ts := m.config.TokenSource(ctx, &tf.Token)
	fresh, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != tf.AccessToken {
		if err := m.saveToken(email, fresh); err != nil {
			m.logger.Warn("failed to save refreshed token", "email", email, "error", err)
		}
	}
	return oauth2.ReuseTokenSource(fresh, ts), nil
}

// HasToken reports whether a token is stored for the account.
func (m *Manager) HasToken(email string) bool {
	_, err := m.loadTokenFile(email)
	return err == nil
}

// NeedsReauth reports whether the stored token is missing or was granted
// without the manager's scopes.
func (m *Manager) NeedsReauth(email string) bool {
	tf, err := m.loadTokenFile(email)
	if err != nil {
		return true
	}
	return len(m.missingScopes(tf)) > 0
}

// missingScopes lists configured scopes the token was not granted. Full
// access satisfies everything.
func (m *Manager) missingScopes(tf *tokenFile) []string {
	if slices.Contains(tf.Scopes, ScopeFullAccess) {
		return nil
	}
	var missing []string
	for _, s := range m.config.Scopes {
		if !slices.Contains(tf.Scopes, s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// Authorize runs the OAuth flow for an account and stores the token.
// Headless mode uses the device authorization grant; otherwise a browser is
// opened and a loopback server receives the callback.
func (m *Manager) Authorize(ctx context.Context, email string, headless bool) error {
	var token *oauth2.Token
	var err error
	if headless {
		token, err = m.deviceFlow(ctx)
	} else {
		token, err = m.browserFlow(ctx, email)
	}
	if err != nil {
		return err
	}
	return m.saveToken(email, token)
}

const (
	redirectPort = "8089"
	callbackPath = "/callback"
)

func (m *Manager) newCallbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != expectedState {
			errChan <- errors.New("state mismatch: possible CSRF attack")
			http.Error(w, "Error: state mismatch", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			errChan <- fmt.Errorf("authorization denied: %s", e)
			http.Error(w, "Error: authorization denied", http.StatusForbidden)
			return
		}
		code := q.Get("code")
		if code == "" {
			errChan <- errors.New("no code in callback")
			http.Error(w, "Error: no authorization code received", http.StatusBadRequest)
			return
		}
		codeChan <- code
		fmt.Fprint(w, "Authorization successful! You can close this window and return to inboxsweep.")
	}
}

func (m *Manager) browserFlow(ctx context.Context, email string) (*oauth2.Token, error) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.Handle(callbackPath, m.newCallbackHandler(state, codeChan, errChan))
	server := &http.Server{Addr: "localhost:" + redirectPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()
	defer func() { _ = server.Shutdown(context.Background()) }()

	m.config.RedirectURL = "http://localhost:" + redirectPort + callbackPath
	authURL := m.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("login_hint", email),
	)

	fmt.Fprintf(m.out, "Opening browser to authorize %s...\n", email)
	fmt.Fprintf(m.out, "If the browser doesn't open, visit:\n%s\n\n", authURL)
	if err := openBrowser(authURL); err != nil {
		m.logger.Warn("failed to open browser", "error", err)
	}

	select {
	case code := <-codeChan:
		return m.config.Exchange(ctx, code)
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deviceError is an error response from the device token endpoint.
type deviceError struct {
	Code string
}

func (e *deviceError) Error() string { return "oauth error: " + e.Code }

// pending reports whether polling should continue.
func (e *deviceError) pending() bool {
	return e.Code == "authorization_pending" || e.Code == "slow_down"
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

func (m *Manager) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	form := url.Values{
		"client_id": {m.config.ClientID},
		"scope":     {scopesToString(m.config.Scopes)},
	}
	var resp deviceCodeResponse
	if err := m.postForm(ctx, m.deviceURL, form, &resp); err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	return &resp, nil
}

func (m *Manager) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	dc, err := m.requestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(m.out, "\nTo authorize inboxsweep, visit:\n  %s\n\n", dc.VerificationURL)
	fmt.Fprintf(m.out, "And enter code: %s\n\nWaiting for authorization...\n", dc.UserCode)

	interval := time.Duration(dc.Interval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		token, err := m.pollForToken(ctx, dc.DeviceCode)
		if err == nil {
			fmt.Fprintln(m.out, "Authorization successful!")
			return token, nil
		}
		var de *deviceError
		if errors.As(err, &de) && de.pending() {
			if de.Code == "slow_down" {
				interval += 5 * time.Second
			}
			continue
		}
		return nil, err
	}
	return nil, errors.New("authorization timed out")
}

func (m *Manager) pollForToken(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	form := url.Values{
		"client_id":     {m.config.ClientID},
		"client_secret": {m.config.ClientSecret},
		"device_code":   {deviceCode},
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
		Error        string `json:"error"`
	}
	if err := m.postForm(ctx, m.tokenURL, form, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &deviceError{Code: resp.Error}
	}
	return &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Expiry:       time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// postForm posts form and decodes the JSON response into out. Error bodies
// are decoded too since the token endpoint reports pending states as 4xx.
func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}

// tokenFile wraps an OAuth2 token with the scopes it was granted, so a
// scope upgrade can be detected without an API call.
type tokenFile struct {
	oauth2.Token
	Scopes []string `json:"scopes,omitempty"`
}

func (m *Manager) loadTokenFile(email string) (*tokenFile, error) {
	data, err := os.ReadFile(m.tokenPath(email))
	if err != nil {
		return nil, err
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// HasScope reports whether the stored token was granted scope. Tokens saved
// without scope metadata report false.
func (m *Manager) HasScope(email string, scope string) bool {
	tf, err := m.loadTokenFile(email)
	if err != nil {
		return false
	}
	return slices.Contains(tf.Scopes, scope)
}

func (m *Manager) saveToken(email string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(tokenFile{Token: *token, Scopes: m.config.Scopes}, "", "  ")
	if err != nil {
		return err
	}
	if err := fileutil.WritePrivate(m.tokenPath(email), data); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// tokenPath returns the token file for an account. The address is sanitised
// so it cannot escape tokensDir.
func (m *Manager) tokenPath(email string) string {
	safe := strings.ReplaceAll(email, "/", "_")
	safe = strings.ReplaceAll(safe, "\\", "_")
	safe = strings.ReplaceAll(safe, "..", "_")

	cleanPath := filepath.Clean(filepath.Join(m.tokensDir, safe+".json"))
	if !strings.HasPrefix(cleanPath, filepath.Clean(m.tokensDir)) {
		return filepath.Join(m.tokensDir, fmt.Sprintf("%x.json", sha256.Sum256([]byte(email))))
	}
	return cleanPath
}

// DeleteToken removes the stored token for the account.
func (m *Manager) DeleteToken(email string) error {
	err := os.Remove(m.tokenPath(email))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func scopesToString(scopes []string) string {
	return strings.Join(scopes, " ")
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
