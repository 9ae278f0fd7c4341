// Package cmd implements the pagesync command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/pagesync/backend/internal/config"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pagesync",
		Short: "PageSync keeps study items in sync with workspace pages",
		Long: `PageSync fetches pages from a rate-limited workspace API, turns them
into study items and keeps both sides in sync. Syncs are triggered by change
notifications, by hand or by the retry queue.`,
		Version:           Version,
		PersistentPreRunE: setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newHealthCmd(),
		newRetryCmd(),
		newMigrateCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if debug {
		level = logging.LevelDebug
	}
	logging.Init(cmd.ErrOrStderr(), level)
	logging.Get().SetLevel(level)
	return nil
}
