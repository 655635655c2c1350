// Package cmd implements the drkb command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/epiintel/drkb/internal/log"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "drkb",
	Short: "drkb - retrieval over the disease surveillance event database",
	Long: `drkb maintains a hybrid search index over epidemiological surveillance
events and answers questions against it.

Load a snapshot with "drkb update <snapshot.xlsx>", then query it with
"drkb ask". Each accepted snapshot becomes a new immutable version of the
collection; "drkb stats" shows the current one.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// newLogger builds the process logger. Debug level comes from the --debug
// flag or the DEBUG environment variable.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if debug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
