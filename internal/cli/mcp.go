package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bardusco/clawtrace/internal/logging"
	clawmcp "github.com/bardusco/clawtrace/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs clawtrace as an MCP (Model Context Protocol) server over stdio.\nExposes tools: clawtrace_recent, clawtrace_note.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	if disabled(cmd, "nothing to serve") {
		return nil
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := a.start(ctx); err != nil {
		return fmt.Errorf("failed to start identity refresh: %w", err)
	}

	srv := clawmcp.New(clawmcp.Config{Name: "clawtrace", Version: Version},
		a.pipeline, a.ledger, logging.Component(logger, "mcp"))

	fmt.Fprintln(os.Stderr, "clawtrace MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Ledger: %s\n", cfg.Ledger.Path)
	return srv.Run(ctx)
}
