package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsweep/internal/config"
	"github.com/wesm/inboxsweep/internal/fileutil"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inboxsweep",
	Short: "Batch review of inbox clutter",
	Long: `inboxsweep classifies the mail in your inbox and walks you through it
ten messages at a time, so you can delete, archive or unsubscribe from
whatever you no longer need.

It works against Gmail (OAuth) or any IMAP server. Every committed batch is
recorded in a local journal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel(),
		}))

		// --home is passed through so it influences where config.toml is
		// loaded from, like INBOXSWEEP_HOME.
		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := fileutil.MkdirPrivate(cfg.Data.DataDir); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}
		return nil
	},
}

// ExecuteContext runs the root command. Cancelling ctx stops long-running
// commands (review, serve, mcp) cleanly.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const clientSecretsGlob = "client_secret*.json"

// oauthSetupHint explains how to obtain Gmail OAuth credentials, naming the
// config file actually in use.
func oauthSetupHint() string {
	where := "config.toml"
	if cfg != nil {
		where = cfg.ConfigFilePath()
	}
	return fmt.Sprintf(`

Gmail access needs an OAuth client of type "Desktop app":
  1. Enable the Gmail API and create the client at
     https://console.cloud.google.com/apis/credentials
  2. Download its JSON file.
  3. Run 'inboxsweep setup', or set it in %s:
       [oauth]
       client_secrets = "/path/to/client_secret.json"`, where)
}

// errOAuthNotConfigured is returned when [oauth] client_secrets is empty. A
// downloaded secrets file nearby is suggested when there is one.
func errOAuthNotConfigured() error {
	if found := findClientSecrets(); len(found) > 0 {
		return fmt.Errorf("OAuth client secrets not configured; found %s, run 'inboxsweep setup' to use it", found[0])
	}
	return errors.New("OAuth client secrets not configured." + oauthSetupHint())
}

// wrapOAuthError adds the setup hint when the secrets file cannot be read.
func wrapOAuthError(err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w%s", err, oauthSetupHint())
	}
	return err
}

// findClientSecrets returns absolute paths of downloaded OAuth client files
// in ~/Downloads, the working directory and the inboxsweep home.
func findClientSecrets() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "Downloads"))
	}
	dirs = append(dirs, ".")
	if cfg != nil {
		dirs = append(dirs, cfg.HomeDir)
	}

	var found []string
	for _, dir := range dirs {
		matches, _ := filepath.Glob(filepath.Join(dir, clientSecretsGlob))
		for _, m := range matches {
			if abs, err := filepath.Abs(m); err == nil && !slices.Contains(found, abs) {
				found = append(found, abs)
			}
		}
	}
	return found
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "inboxsweep", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.inboxsweep/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides INBOXSWEEP_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(versionCmd)
}
