package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bardusco/clawtrace/internal/ingest"
)

var ingestFile string

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "read events from file instead of stdin")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Feed lifecycle events (JSON lines) through the pipeline",
	Long: "Reads one lifecycle event per line from stdin (or --file) and runs\n" +
		"each through sanitize, correlate, resolve and append. No HTTP server is started.",
	Args: cobra.NoArgs,
	RunE: runIngest,
}

type ingestStats struct {
	events   int
	records  int
	rejected int
}

func runIngest(cmd *cobra.Command, args []string) error {
	if disabled(cmd, "events not ingested") {
		return nil
	}
	var in io.Reader = cmd.InOrStdin()
	if ingestFile != "" {
		f, err := os.Open(ingestFile)
		if err != nil {
			return fmt.Errorf("open events: %w", err)
		}
		defer f.Close()
		in = f
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

	var stats ingestStats
	err = ingest.Scan(in, func(lineNo int, ev *ingest.Event, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		stats.events++
		if err == nil {
			rec, herr := a.pipeline.Handle(ctx, ev)
			if rec != nil {
				stats.records++
			}
			err = herr
		}
		if err != nil {
			stats.rejected++
			logger.WithError(err).WithFields(logrus.Fields{"line": lineNo}).Warn("event rejected")
		}
		return nil
	})

	fmt.Fprintf(cmd.ErrOrStderr(), "Ingested %d events: %d records written, %d rejected\n",
		stats.events, stats.records, stats.rejected)
	return err
}
