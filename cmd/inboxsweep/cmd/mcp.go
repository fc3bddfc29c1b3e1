package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	mcpserver "github.com/wesm/inboxsweep/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for Claude Desktop integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This lets Claude Desktop (or any MCP client) classify messages, list review
candidates, read message bodies and inspect the commit journal with the
tools classify_message, list_candidates, get_message_body and list_journal.
The tools never modify the mailbox.

Add to Claude Desktop config:
  {
    "mcpServers": {
      "inboxsweep": {
        "command": "inboxsweep",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := openBackend(ctx, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		userEmail, err := b.gateway.UserEmail(ctx)
		if err != nil {
			return fmt.Errorf("resolve account address: %w", err)
		}

		return mcpserver.Serve(ctx, b.gateway, mcpserver.Options{
			UserEmail: userEmail,
			Journal:   b.store,
		})
	},
}

func init() {
	addAccountFlag(mcpCmd)
	rootCmd.AddCommand(mcpCmd)
}
