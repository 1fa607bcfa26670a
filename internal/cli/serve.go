package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bardusco/clawtrace/internal/logging"
	"github.com/bardusco/clawtrace/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("bind", "", "listen address")
	serveCmd.Flags().Int("port", 0, "listen port")
	serveCmd.Flags().String("path-prefix", "", "route prefix for the dashboard and API")
	_ = v.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	_ = v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("server.path_prefix", serveCmd.Flags().Lookup("path-prefix"))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard, live stream and hook endpoint",
	Long: "Runs the HTTP surface: dashboard, live record stream, recent/export\n" +
		"endpoints, note submission and lifecycle hook ingest.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	h := server.NewHandler(a.pipeline, a.ledger, a.broadcaster, a.metrics,
		logging.Component(logger, "http"), cfg.Server.HeartbeatInterval)
	srv := server.New(server.Config{
		Bind:           cfg.Server.Bind,
		Port:           cfg.Server.Port,
		PathPrefix:     cfg.Server.PathPrefix,
		MetricsEnabled: cfg.Metrics.Enabled,
		OnListen: func(addr string) {
			fmt.Fprintf(os.Stderr, "clawtrace listening on http://%s%s/\n", addr, server.NormalizePrefix(cfg.Server.PathPrefix))
			fmt.Fprintf(os.Stderr, "Ledger: %s\n", cfg.Ledger.Path)
		},
	}, h, a.metrics.Handler(), logging.Component(logger, "http"))

	err = srv.Start(ctx)
	fmt.Fprintln(os.Stderr, "\nclawtrace stopped")
	return err
}
