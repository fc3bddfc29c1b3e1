package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/inboxsweep/internal/api"
	"github.com/wesm/inboxsweep/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve review sessions over an HTTP API",
	Long: `Run the review HTTP API in the foreground. Each mode has one session that
clients drive with:

  GET    /api/v1/sessions/{mode}              current batch and stats
  POST   /api/v1/sessions/{mode}/toggle       {"id": "...", "selected": true}
  POST   /api/v1/sessions/{mode}/select-all
  POST   /api/v1/sessions/{mode}/deselect-all
  POST   /api/v1/sessions/{mode}/process
  POST   /api/v1/sessions/{mode}/skip
  POST   /api/v1/sessions/{mode}/start-over
  DELETE /api/v1/sessions/{mode}
  GET    /api/v1/messages/{id}/body
  GET    /api/v1/journal[/{id}]
  GET    /api/v1/stats

Configure in config.toml:
  [server]
  api_port = 8080
  bind_addr = "127.0.0.1"
  api_key = "..."        # required when binding beyond loopback

Use Ctrl+C to stop the server gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "API port (overrides [server] api_port)")
	addAccountFlag(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort != 0 {
		cfg.Server.APIPort = servePort
	}
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := openBackend(ctx, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	registry := session.NewRegistry(b.gateway,
		session.WithLogger(logger),
		session.WithNotifier(session.NotifierFunc(func(n session.Notification) {
			if n.Level == session.LevelError {
				logger.Warn(n.Message, "mode", n.Mode, "error", n.Err)
				return
			}
			logger.Info(n.Message, "mode", n.Mode, "count", n.Count, "failed", n.Failed)
		})),
	)
	defer registry.Close()

	apiServer := api.NewServer(cfg.Server, registry, b.gateway, b.store, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("inboxsweep API started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Account: %s\n", b.account)
	fmt.Printf("  Journal: %s\n", cfg.DatabaseDSN())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	select {
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	}

	fmt.Println("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}
	fmt.Println("Shutdown complete.")
	return nil
}
