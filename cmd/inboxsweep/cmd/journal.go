package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/store"
)

var (
	journalAccount string
	journalMode    string
	journalSince   string
	journalLimit   int
	journalJSON    bool
)

var journalCmd = &cobra.Command{
	Use:   "journal [commit-id]",
	Short: "Show committed deletes, archives and unsubscribes",
	Long: `List the commit journal, newest first. Every processed batch is recorded
with the number of messages requested, succeeded and failed.

Pass a commit id to list the messages of that commit.

Examples:
  inboxsweep journal
  inboxsweep journal --mode delete --since 2024-06-01
  inboxsweep journal --account you@gmail.com --limit 10 --json
  inboxsweep journal 5f0c7a0e-0c1d-4c36-8f8e-8f8d1c3a2b10`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 1 {
			succeeded, failed, err := s.CommitMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(succeeded) == 0 && len(failed) == 0 {
				return fmt.Errorf("commit %s not found", args[0])
			}
			if journalJSON {
				return writeJSON(os.Stdout, map[string][]string{"succeeded": succeeded, "failed": failed})
			}
			for _, id := range succeeded {
				fmt.Printf("ok      %s\n", id)
			}
			for _, id := range failed {
				fmt.Printf("failed  %s\n", id)
			}
			return nil
		}

		opts, err := journalOptions()
		if err != nil {
			return err
		}
		records, err := s.ListCommits(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if journalJSON {
			return writeJSON(os.Stdout, records)
		}
		if len(records) == 0 {
			fmt.Println("No commits recorded.")
			return nil
		}
		printCommits(os.Stdout, records)
		return nil
	},
}

func journalOptions() (store.ListOptions, error) {
	opts := store.ListOptions{Account: journalAccount, Limit: journalLimit}
	if journalMode != "" {
		mode, err := mail.ParseMode(journalMode)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}
	if journalSince != "" {
		since, err := time.ParseInLocation("2006-01-02", journalSince, time.Local)
		if err != nil {
			return opts, fmt.Errorf("invalid --since %q: want YYYY-MM-DD", journalSince)
		}
		opts.Since = since
	}
	return opts, nil
}

func printCommits(out io.Writer, records []*store.CommitRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tACCOUNT\tMODE\tOK\tFAILED\tID")
	fmt.Fprintln(w, "────\t───────\t────\t──\t──────\t──")
	for _, r := range records {
		failed := fmt.Sprintf("%d", r.Failed)
		if r.Error != "" {
			failed += " (" + r.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			r.CommittedAt.Local().Format("2006-01-02 15:04"),
			r.Account,
			r.Mode,
			r.Succeeded, r.Requested,
			failed,
			r.ID,
		)
	}
	w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	journalCmd.Flags().StringVar(&journalAccount, "account", "", "only commits for this account")
	journalCmd.Flags().StringVarP(&journalMode, "mode", "m", "", "only commits for this mode")
	journalCmd.Flags().StringVar(&journalSince, "since", "", "only commits on or after this date (YYYY-MM-DD)")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "maximum number of commits")
	journalCmd.Flags().BoolVar(&journalJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(journalCmd)
}
