package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bardusco/clawtrace/internal/config"
	"github.com/bardusco/clawtrace/internal/logging"
)

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
	logger  *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clawtrace",
	Short: "Tool-call audit trail for agent runtimes",
	Long: "Records every tool call an agent makes into an append-only ledger,\n" +
		"with secrets removed, and streams new records to live observers.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Configure(v, cfgFile); err != nil {
			return err
		}
		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		l, err := logging.New(loaded.Log.Level, loaded.Log.Format, os.Stderr)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		if f := v.ConfigFileUsed(); f != "" {
			logger.WithField("file", f).Debug("config loaded")
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultConfigFile()))
	flags.String("ledger", "", "path to the ledger file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	_ = v.BindPFlag("ledger.path", flags.Lookup("ledger"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
}

// disabled reports whether clawtrace is switched off and says so. Commands
// that write to the ledger or serve observers check it; reading an existing
// ledger stays possible.
func disabled(cmd *cobra.Command, what string) bool {
	if cfg == nil || cfg.Enabled {
		return false
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "clawtrace is disabled (enabled: false), %s\n", what)
	return true
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
