package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/wesm/inboxsweep/internal/fileutil"
	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/session"
	"github.com/wesm/inboxsweep/internal/tui"
)

var reviewMode string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review inbox candidates in the terminal UI",
	Long: `Open the review TUI. Candidates are shown ten at a time with the first
batch preselected; deselect what you want to keep and process the rest.

Keys:
  ↑/k, ↓/j    Move up/down
  Space, x    Toggle selection
  a / n       Select all / none
  Enter, p    Process selected (asks for confirmation)
  s           Skip batch
  r           Start over
  o, v        Open message
  Tab, m      Next mode (delete → archive → unsubscribe)
  ?           Help
  q           Quit

While the TUI owns the terminal, logs are written to the logs directory in
your data dir.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := mail.ParseMode(reviewMode)
		if err != nil {
			return err
		}
		if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return errors.New("review needs an interactive terminal; use 'inboxsweep classify' for a plain listing")
		}

		logFile, err := openLogFile(cfg.LogsDir(), time.Now())
		if err != nil {
			return err
		}
		defer logFile.Close()
		fileLogger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
			Level: logLevel(),
		}))

		b, err := openBackend(cmd.Context(), fileLogger)
		if err != nil {
			return err
		}
		defer b.Close()

		events := tui.NewEvents()
		registry := session.NewRegistry(b.gateway,
			session.WithLogger(fileLogger),
			session.WithOnChange(events.Changed),
			session.WithNotifier(events),
		)
		defer registry.Close()

		fileLogger.Info("review started", "account", b.account, "mode", mode)
		err = tui.Run(cmd.Context(), registry, b.gateway, tui.Options{
			Account: b.account,
			Mode:    mode,
			Version: Version,
			Events:  events,
			Logger:  fileLogger,
		})
		if err != nil {
			return fmt.Errorf("run tui: %w", err)
		}
		return nil
	},
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// openLogFile opens a per-day log file for the review session.
func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := fileutil.MkdirPrivate(dir); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	path := filepath.Join(dir, "review-"+now.Format("2006-01-02")+".log")
	f, err := fileutil.OpenPrivate(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func init() {
	reviewCmd.Flags().StringVarP(&reviewMode, "mode", "m", string(mail.ModeDelete), "initial mode: delete, archive or unsubscribe")
	addAccountFlag(reviewCmd)
	rootCmd.AddCommand(reviewCmd)
}
