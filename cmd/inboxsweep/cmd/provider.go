package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/wesm/inboxsweep/internal/config"
	"github.com/wesm/inboxsweep/internal/gateway"
	"github.com/wesm/inboxsweep/internal/gmail"
	imapclient "github.com/wesm/inboxsweep/internal/imap"
	"github.com/wesm/inboxsweep/internal/oauth"
	"github.com/wesm/inboxsweep/internal/store"
	"github.com/wesm/inboxsweep/internal/unsubscribe"
)

// accountOverride is the --account flag shared by the commands that talk to
// a mailbox.
var accountOverride string

func addAccountFlag(c *cobra.Command) {
	c.Flags().StringVar(&accountOverride, "account", "", "Gmail account to use (overrides [provider] account)")
}

// backend bundles everything a command needs to review one mailbox.
type backend struct {
	account string
	api     gmail.API
	store   *store.Store
	journal *store.Journal
	gateway *gateway.Gateway
}

func (b *backend) Close() {
	if b.api != nil {
		_ = b.api.Close()
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}

// openBackend connects to the configured provider, opens the journal and
// builds the gateway. log receives component logs; pass the root logger
// unless the terminal is owned by the TUI.
func openBackend(ctx context.Context, log *slog.Logger) (*backend, error) {
	b := &backend{}
	var err error
	switch cfg.Provider.Kind {
	case config.ProviderIMAP:
		b.api, b.account, err = openIMAP(log)
	default:
		b.api, b.account, err = openGmail(ctx, log)
	}
	if err != nil {
		return nil, err
	}

	b.store, err = openStore()
	if err != nil {
		b.Close()
		return nil, err
	}
	b.journal, err = b.store.Journal(ctx, cfg.Provider.Kind, b.account)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithPageSize(cfg.Provider.FetchLimit),
		gateway.WithConcurrency(cfg.Provider.Concurrency),
		gateway.WithDeleteMethod(gateway.DeleteMethod(cfg.Provider.DeleteMethod)),
		gateway.WithDispatcher(newDispatcher(b.api, cfg.Unsubscribe, log)),
		gateway.WithJournal(b.journal),
	}
	if cfg.Provider.Kind == config.ProviderGmail {
		opts = append(opts, gateway.WithUserEmail(b.account))
	}
	b.gateway = gateway.New(b.api, opts...)
	return b, nil
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.DatabaseDSN())
}

func newDispatcher(sender unsubscribe.Sender, uc config.UnsubscribeConfig, log *slog.Logger) *unsubscribe.Dispatcher {
	opts := []unsubscribe.Option{
		unsubscribe.WithLogger(log),
		unsubscribe.WithDelay(time.Duration(uc.DelayMS) * time.Millisecond),
		unsubscribe.WithUserAgent(uc.UserAgent),
	}
	if uc.TimeoutSeconds > 0 {
		opts = append(opts, unsubscribe.WithHTTPClient(&http.Client{
			Timeout: time.Duration(uc.TimeoutSeconds) * time.Second,
		}))
	}
	return unsubscribe.NewDispatcher(sender, opts...)
}

func gmailAccount() (string, error) {
	account := cfg.Provider.Account
	if accountOverride != "" {
		account = accountOverride
	}
	if account == "" {
		return "", errors.New("no Gmail account configured: set [provider] account in config.toml or pass --account")
	}
	return account, nil
}

func openGmail(ctx context.Context, log *slog.Logger) (gmail.API, string, error) {
	account, err := gmailAccount()
	if err != nil {
		return nil, "", err
	}
	if cfg.OAuth.ClientSecrets == "" {
		return nil, "", errOAuthNotConfigured()
	}
	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), log, oauth.ScopesFor(cfg.Provider.DeleteMethod))
	if err != nil {
		return nil, "", wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}
	ts, err := getTokenSourceWithReauth(ctx, mgr, account)
	if err != nil {
		return nil, "", err
	}
	client := gmail.NewClient(ts,
		gmail.WithLogger(log),
		gmail.WithRateLimiter(gmail.NewRateLimiter(cfg.Provider.RateLimitQPS)),
	)
	return client, account, nil
}

// getTokenSourceWithReauth tries to get a token source for the given email.
// If the token exists but is expired, revoked or lacks the scopes the
// configured delete method needs, it deletes the old token and re-runs the
// browser flow.
func getTokenSourceWithReauth(ctx context.Context, mgr *oauth.Manager, email string) (oauth2.TokenSource, error) {
	ts, err := mgr.TokenSource(ctx, email)
	if err == nil {
		return ts, nil
	}

	// No token at all: the user needs to run add-account.
	if !mgr.HasToken(email) {
		return nil, fmt.Errorf("get token source: %w (run 'inboxsweep add-account %s' first)", err, email)
	}

	fmt.Printf("Token for %s is expired, revoked or missing scopes. Re-authorizing...\n", email)
	if err := mgr.DeleteToken(email); err != nil {
		return nil, fmt.Errorf("delete expired token: %w", err)
	}
	if err := mgr.Authorize(ctx, email, false); err != nil {
		return nil, fmt.Errorf("re-authorize %s: %w", email, err)
	}

	ts, err = mgr.TokenSource(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get token source after re-authorization: %w", err)
	}
	return ts, nil
}

// imapConfig converts the [imap] section into a client config.
func imapConfig(ic config.IMAPConfig) *imapclient.Config {
	return &imapclient.Config{
		Host:           ic.Host,
		Port:           ic.Port,
		TLS:            ic.TLS && !ic.STARTTLS,
		STARTTLS:       ic.STARTTLS,
		Username:       ic.Username,
		ArchiveMailbox: ic.ArchiveMailbox,
	}
}

// imapPassword prefers the configured environment variable and falls back to
// credentials saved by add-account.
func imapPassword(ic config.IMAPConfig, identifier string) (string, error) {
	if ic.PasswordEnv != "" {
		return ic.Password()
	}
	pw, err := imapclient.LoadCredentials(cfg.TokensDir(), identifier)
	if err != nil {
		return "", fmt.Errorf("IMAP password: %w", err)
	}
	return pw, nil
}

func openIMAP(log *slog.Logger) (gmail.API, string, error) {
	ic := imapConfig(cfg.IMAP)
	identifier := ic.Identifier()
	pw, err := imapPassword(cfg.IMAP, identifier)
	if err != nil {
		return nil, "", err
	}
	client := imapclient.NewClient(ic, pw, imapclient.WithLogger(log))
	return client, identifier, nil
}
