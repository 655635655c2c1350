package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/epiintel/drkb/internal/app"
	"github.com/epiintel/drkb/internal/config"
	"github.com/epiintel/drkb/internal/update"
)

var updatedBy string

var updateCmd = &cobra.Command{
	Use:   "update <snapshot>",
	Short: "Load a snapshot file and replace the collection",
	Long: `Update validates the snapshot (.xlsx or .csv), diffs it against the
currently loaded version, embeds the changed collection and atomically swaps
it in. The previous version stays active until the swap commits; a failed
update changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

// load is the same pipeline as update; on an empty collection every event
// diffs as new. Kept as a separate verb for the first build.
var loadCmd = &cobra.Command{
	Use:   "load <snapshot>",
	Short: "Build the collection from a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updatedBy, "by", "", "who triggered the update (recorded in the ledger)")
	loadCmd.Flags().StringVar(&updatedBy, "by", "", "who triggered the load (recorded in the ledger)")
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(loadCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.UpdateTimeout)
	defer cancelTimeout()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Updater.Run(ctx, args[0], update.WithUpdatedBy(updatedBy))
	if err != nil {
		if errors.Is(err, update.ErrValidation) {
			fmt.Fprintln(cmd.OutOrStdout(), "Snapshot rejected:", err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if res.NoChanges {
		fmt.Fprintln(out, "No changes detected; collection left untouched.")
		return nil
	}

	fmt.Fprintf(out, "Version %d loaded: %s\n", res.Version, res.Changes.Summary())
	fmt.Fprintf(out, "Chunks indexed: %d\n", res.Chunks)
	if !res.Report.Clean() {
		fmt.Fprintf(out, "Warning: %s\n", res.Report.Summary())
	}
	fmt.Fprintf(out, "Snapshot backed up to %s\n", res.BackupPath)
	return nil
}
