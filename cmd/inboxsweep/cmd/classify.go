package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsweep/internal/mail"
	"github.com/wesm/inboxsweep/internal/textutil"
)

var (
	classifyMode string
	classifyJSON bool
	classifyPage string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Show what a review would suggest, without changing anything",
	Long: `List one page of inbox candidates for a mode with the classifier's
verdict, confidence and reasons. Nothing is deleted, archived or
unsubscribed.

Examples:
  inboxsweep classify
  inboxsweep classify --mode unsubscribe
  inboxsweep classify --mode archive --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := mail.ParseMode(classifyMode)
		if err != nil {
			return err
		}

		b, err := openBackend(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer b.Close()

		page, err := b.gateway.ListMessages(cmd.Context(), mode, classifyPage)
		if err != nil {
			return fmt.Errorf("list %s candidates: %w", mode, err)
		}

		if classifyJSON {
			return writeJSON(os.Stdout, page)
		}
		if len(page.Messages) == 0 {
			fmt.Printf("No %s candidates on this page.\n", mode)
		} else {
			printCandidates(os.Stdout, page.Messages)
		}
		if page.NextPageToken != "" {
			fmt.Printf("\nMore candidates: inboxsweep classify --mode %s --page %s\n", mode, page.NextPageToken)
		}
		return nil
	},
}

func printCandidates(out io.Writer, msgs []mail.ClassifiedMessage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tSUBJECT\tACTION\tCONF\tREASONS")
	fmt.Fprintln(w, "──\t────\t───────\t──────\t────\t───────")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
			m.ID,
			textutil.TruncateRunes(m.From.Email, 32),
			textutil.TruncateRunes(m.Subject, 40),
			m.Classification.Action,
			m.Classification.Confidence*100,
			strings.Join(m.Classification.Reasons, "; "),
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\nShowing %d candidates\n", len(msgs))
}

func init() {
	classifyCmd.Flags().StringVarP(&classifyMode, "mode", "m", string(mail.ModeDelete), "review mode: delete, archive or unsubscribe")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "output as JSON")
	classifyCmd.Flags().StringVar(&classifyPage, "page", "", "page token from a previous run")
	addAccountFlag(classifyCmd)
	rootCmd.AddCommand(classifyCmd)
}
