package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/khanglvm/espresso-dialin/internal/mcp"
	"github.com/khanglvm/espresso-dialin/internal/version"
)

// NewServeCmd creates the 'serve' command for running the MCP server.
//
// The server exposes the dial-in operations as MCP tools over stdio:
// dialin_next, dialin_report, dialin_history, dialin_best, dialin_status
// and shot_predict.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio transport)",
		Long: `Start the espresso-dialin MCP server using stdio transport.

The server exposes 6 tools to AI clients:
  • dialin_next    - Record the last shot and get the next trial to brew
  • dialin_report  - Report the score of a pending trial
  • dialin_history - List the trials of a session
  • dialin_best    - Get the best parameters found so far
  • dialin_status  - Summarize a session
  • shot_predict   - Predict the quality of a shot

Logs go to stderr so stdout stays a clean protocol stream.`,
		Example: `  # Run directly
  dialin serve

  # Add to an MCP client
  claude mcp add espresso -- dialin serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	return cmd
}

// runServe starts the MCP server with stdio transport and signal handling.
// Implements graceful shutdown on SIGINT/SIGTERM/SIGQUIT.
func runServe(cmd *cobra.Command) error {
	a, err := openApp(cmd)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	server := mcp.NewServer(a.svc, version.Version)
	log.Printf("Serving dial-in tools (model: %s, history: %s)", a.pred.ScorerName(), a.store.Path())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	return serveUntil(ctx, server.Run, a.Close)
}

// serveUntil runs serve until it returns or ctx is done. closeFn runs once
// either way so the shot archive is drained before exit.
func serveUntil(ctx context.Context, serve func() error, closeFn func() error) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- serve()
	}()

	select {
	case <-ctx.Done():
		log.Printf("Shutting down gracefully: %v", ctx.Err())
		if err := closeFn(); err != nil {
			log.Printf("Error during shutdown: %v", err)
			return err
		}
		log.Println("Shutdown complete")
		return nil

	case err := <-errChan:
		// stdin closed or the transport failed
		if closeErr := closeFn(); closeErr != nil {
			log.Printf("Error during cleanup: %v", closeErr)
		}
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
