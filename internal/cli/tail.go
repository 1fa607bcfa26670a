package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bardusco/clawtrace/internal/audit"
)

var (
	tailLines int
	tailJSON  bool
)

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().IntVarP(&tailLines, "lines", "n", 20, "Number of recent records to show")
	tailCmd.Flags().BoolVar(&tailJSON, "json", false, "Print raw ledger lines")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent ledger records",
	Long:  "Reads the last N records from the ledger and prints them as a timeline,\nor as raw JSON lines with --json.",
	Args:  cobra.NoArgs,
	RunE:  runTail,
}

func runTail(cmd *cobra.Command, args []string) error {
	ledger := audit.Open(cfg.Ledger.Path)
	defer ledger.Close()

	lines, err := ledger.Tail(tailLines)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if tailJSON {
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		return nil
	}
	if len(lines) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No records in %s\n", cfg.Ledger.Path)
		return nil
	}
	fmt.Fprint(out, audit.FormatTimeline(lines))
	return nil
}
