package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wesm/inboxsweep/internal/config"
	imapclient "github.com/wesm/inboxsweep/internal/imap"
	"github.com/wesm/inboxsweep/internal/oauth"
)

var (
	headless    bool
	forceReauth bool
	addIMAP     bool
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account [email]",
	Short: "Authorize a Gmail account or save IMAP credentials",
	Long: `Authorize a mailbox for review.

For Gmail, completes the OAuth2 flow and stores the token. By default a
browser is opened; --headless uses the device flow and prints a code to
enter on another machine. The scopes requested follow provider.delete_method:
"permanent" needs full mail access, "trash" only gmail.modify.

With --imap, connects to the server in the [imap] section, prompts for the
password, verifies the login and saves the credentials.

The first account added becomes the default in config.toml.

Examples:
  inboxsweep add-account you@gmail.com
  inboxsweep add-account you@gmail.com --headless
  inboxsweep add-account you@gmail.com --force
  inboxsweep add-account --imap`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if addIMAP {
			return addIMAPAccount(cmd)
		}
		if len(args) != 1 {
			return errors.New("add-account needs the Gmail address to authorize")
		}
		return addGmailAccount(cmd, args[0])
	},
}

func addGmailAccount(cmd *cobra.Command, email string) error {
	if cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}

	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger, oauth.ScopesFor(cfg.Provider.DeleteMethod))
	if err != nil {
		return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}

	if forceReauth {
		if mgr.HasToken(email) {
			fmt.Printf("Removing existing token for %s...\n", email)
			if err := mgr.DeleteToken(email); err != nil {
				return fmt.Errorf("delete existing token: %w", err)
			}
		} else {
			fmt.Printf("No existing token found for %s, proceeding with authorization.\n", email)
		}
	}

	if !mgr.NeedsReauth(email) {
		fmt.Printf("Account %s is already authorized.\n", email)
		fmt.Println("To re-authorize (e.g., expired token), run: inboxsweep add-account", email, "--force")
		return rememberAccount(config.ProviderGmail, email)
	}

	if headless {
		fmt.Println("Starting device authorization...")
	} else {
		fmt.Println("Starting browser authorization...")
	}
	if err := mgr.Authorize(cmd.Context(), email, headless); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	// Register the account in the journal so it shows up before its first
	// commit.
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Journal(cmd.Context(), config.ProviderGmail, email); err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	fmt.Printf("\nAccount %s authorized successfully!\n", email)
	if err := rememberAccount(config.ProviderGmail, email); err != nil {
		return err
	}
	fmt.Println("You can now run: inboxsweep review")
	return nil
}

func addIMAPAccount(cmd *cobra.Command) error {
	if cfg.IMAP.Host == "" || cfg.IMAP.Username == "" {
		return fmt.Errorf("set [imap] host and username in %s first (or run 'inboxsweep setup')", cfg.ConfigFilePath())
	}
	ic := imapConfig(cfg.IMAP)

	var password string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Password for %s@%s", ic.Username, ic.Host)).
				Description("Stored in the tokens directory with owner-only permissions").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(validateRequired("Password")),
		),
	).Run()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	fmt.Printf("Testing connection to %s...\n", ic.Addr())
	client := imapclient.NewClient(ic, password, imapclient.WithLogger(logger))
	profile, err := client.GetProfile(cmd.Context())
	_ = client.Close()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	fmt.Printf("Connected successfully as %s\n", profile.EmailAddress)

	identifier := ic.Identifier()
	if err := imapclient.SaveCredentials(cfg.TokensDir(), identifier, password); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Journal(cmd.Context(), config.ProviderIMAP, identifier); err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	fmt.Printf("\nIMAP account added successfully!\n")
	fmt.Printf("  Identifier: %s\n", identifier)
	if err := rememberAccount(config.ProviderIMAP, profile.EmailAddress); err != nil {
		return err
	}
	fmt.Println("You can now run: inboxsweep review")
	return nil
}

// rememberAccount makes the account the default when none is configured.
func rememberAccount(kind, account string) error {
	if cfg.Provider.Account != "" {
		return nil
	}
	cfg.Provider.Kind = kind
	cfg.Provider.Account = account
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Default account set to %s in %s\n", account, cfg.ConfigFilePath())
	return nil
}

func init() {
	addAccountCmd.Flags().BoolVar(&headless, "headless", false, "Use the device flow instead of opening a browser")
	addAccountCmd.Flags().BoolVar(&forceReauth, "force", false, "Delete existing token and re-authorize (use when token is expired or revoked)")
	addAccountCmd.Flags().BoolVar(&addIMAP, "imap", false, "Save credentials for the [imap] server instead of authorizing Gmail")
	addAccountCmd.MarkFlagsMutuallyExclusive("imap", "headless")
	addAccountCmd.MarkFlagsMutuallyExclusive("imap", "force")
	rootCmd.AddCommand(addAccountCmd)
}
