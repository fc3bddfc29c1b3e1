package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wesm/inboxsweep/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard for first-run configuration",
	Long: `Interactive setup wizard to configure inboxsweep for first use.

This command helps you:
  1. Choose Gmail or IMAP
  2. Locate Google OAuth credentials or enter IMAP server settings
  3. Choose how deleted mail is removed
  4. Write config.toml

Run this once after installing inboxsweep to get started quickly.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

// setupAnswers collects the wizard's fields before they are applied.
type setupAnswers struct {
	Kind          string
	Account       string
	ClientSecrets string
	DeleteMethod  string

	IMAPHost     string
	IMAPPort     string
	IMAPSecurity string // tls, starttls or none
	IMAPUsername string
	PasswordEnv  string
}

func answersFromConfig(c *config.Config) setupAnswers {
	a := setupAnswers{
		Kind:          c.Provider.Kind,
		Account:       c.Provider.Account,
		ClientSecrets: c.OAuth.ClientSecrets,
		DeleteMethod:  c.Provider.DeleteMethod,
		IMAPHost:      c.IMAP.Host,
		IMAPPort:      strconv.Itoa(c.IMAP.Port),
		IMAPUsername:  c.IMAP.Username,
		PasswordEnv:   c.IMAP.PasswordEnv,
		IMAPSecurity:  "tls",
	}
	switch {
	case c.IMAP.STARTTLS:
		a.IMAPSecurity = "starttls"
	case !c.IMAP.TLS:
		a.IMAPSecurity = "none"
	}
	if a.ClientSecrets == "" {
		if found := findClientSecrets(); len(found) > 0 {
			a.ClientSecrets = found[0]
		}
	}
	return a
}

// apply copies the answers into c and validates the result.
func (a setupAnswers) apply(c *config.Config) error {
	c.Provider.Kind = a.Kind
	c.Provider.DeleteMethod = a.DeleteMethod
	if a.Account != "" {
		c.Provider.Account = strings.TrimSpace(a.Account)
	}

	switch a.Kind {
	case config.ProviderGmail:
		path := expandHome(strings.TrimSpace(a.ClientSecrets))
		if path != "" {
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("client secrets: %w", err)
			}
		}
		c.OAuth.ClientSecrets = path
	case config.ProviderIMAP:
		port, err := strconv.Atoi(strings.TrimSpace(a.IMAPPort))
		if err != nil {
			return fmt.Errorf("invalid IMAP port %q", a.IMAPPort)
		}
		c.IMAP.Host = strings.TrimSpace(a.IMAPHost)
		c.IMAP.Port = port
		c.IMAP.Username = strings.TrimSpace(a.IMAPUsername)
		c.IMAP.PasswordEnv = strings.TrimSpace(a.PasswordEnv)
		c.IMAP.TLS = a.IMAPSecurity == "tls"
		c.IMAP.STARTTLS = a.IMAPSecurity == "starttls"
		if c.Provider.Account == "" {
			c.Provider.Account = c.IMAP.Username
		}
	}
	return c.Validate()
}

func runSetup(cmd *cobra.Command, args []string) error {
	fmt.Println("Welcome to inboxsweep setup!")
	fmt.Println()

	a := answersFromConfig(cfg)

	providerForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Mailbox provider").
				Options(
					huh.NewOption("Gmail (OAuth)", config.ProviderGmail),
					huh.NewOption("IMAP server", config.ProviderIMAP),
				).
				Value(&a.Kind),
			huh.NewSelect[string]().
				Title("Delete method").
				Description("How messages are removed in delete mode").
				Options(
					huh.NewOption("Permanent (batch delete)", "permanent"),
					huh.NewOption("Trash (recoverable for 30 days)", "trash"),
				).
				Value(&a.DeleteMethod),
		),
	)
	if err := providerForm.Run(); err != nil {
		return setupAborted(err)
	}

	var details *huh.Form
	if a.Kind == config.ProviderIMAP {
		details = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("IMAP Host").
					Placeholder("imap.example.com").
					Value(&a.IMAPHost).
					Validate(validateRequired("IMAP Host")),
				huh.NewInput().
					Title("IMAP Port").
					Placeholder("993").
					Value(&a.IMAPPort).
					Validate(validatePort),
				huh.NewSelect[string]().
					Title("Connection security").
					Options(
						huh.NewOption("Implicit TLS (IMAPS)", "tls"),
						huh.NewOption("STARTTLS", "starttls"),
						huh.NewOption("None (not recommended)", "none"),
					).
					Value(&a.IMAPSecurity),
				huh.NewInput().
					Title("Username").
					Placeholder("user@example.com").
					Value(&a.IMAPUsername).
					Validate(validateRequired("Username")),
				huh.NewInput().
					Title("Password environment variable").
					Description("Leave empty to store the password with 'inboxsweep add-account --imap'").
					Value(&a.PasswordEnv),
			),
		)
	} else {
		details = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Path to client_secret.json").
					Description("Create a Desktop OAuth client at https://console.cloud.google.com/apis/credentials").
					Value(&a.ClientSecrets).
					Validate(validateFile),
				huh.NewInput().
					Title("Gmail address").
					Placeholder("you@gmail.com").
					Value(&a.Account),
			),
		)
	}
	if err := details.Run(); err != nil {
		return setupAborted(err)
	}

	if err := a.apply(cfg); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("\nConfiguration saved to %s\n", cfg.ConfigFilePath())

	fmt.Println()
	fmt.Println("Setup complete! Next steps:")
	fmt.Println()
	if a.Kind == config.ProviderIMAP {
		if a.PasswordEnv == "" {
			fmt.Println("  1. Save your IMAP password:")
			fmt.Println("     inboxsweep add-account --imap")
		} else {
			fmt.Printf("  1. Export your IMAP password as %s\n", a.PasswordEnv)
		}
	} else {
		account := a.Account
		if account == "" {
			account = "you@gmail.com"
		}
		fmt.Println("  1. Authorize your Gmail account:")
		fmt.Println("     inboxsweep add-account", account)
	}
	fmt.Println()
	fmt.Println("  2. Review your inbox:")
	fmt.Println("     inboxsweep review")
	fmt.Println()
	fmt.Println("For more help: inboxsweep --help")
	return nil
}

func setupAborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errors.New("setup cancelled")
	}
	return err
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validatePort(s string) error {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return errors.New("port must be a number between 1 and 65535")
	}
	return nil
}

// validateFile accepts an empty path (configure later) or an existing file.
func validateFile(s string) error {
	path := expandHome(strings.TrimSpace(s))
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
