package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var noteSession string

func init() {
	rootCmd.AddCommand(noteCmd)
	noteCmd.Flags().StringVar(&noteSession, "session", "", "Session key the note belongs to (default: main session)")
}

var noteCmd = &cobra.Command{
	Use:   "note <text>",
	Short: "Append an operator note to the ledger",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNote,
}

func runNote(cmd *cobra.Command, args []string) error {
	if disabled(cmd, "note not recorded") {
		return nil
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// One load is enough for a single record; no refresh schedule.
	if err := a.store.ReloadAll(); err != nil {
		logger.WithError(err).Debug("identity maps incomplete")
	}

	rec, err := a.pipeline.Note(context.Background(), strings.Join(args, " "), noteSession)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s note recorded (%s)\n", rec.Timestamp, rec.Session.Label)
	return nil
}
