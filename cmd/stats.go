package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/epiintel/drkb/internal/config"
	"github.com/epiintel/drkb/internal/ledger"
)

var historyLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics and update history",
	Long: `Stats reads the version ledger and prints the current collection
version, its composition (top hazards, top locations, date coverage) and the
most recent update attempts. It does not touch the database.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&historyLimit, "history", 5, "number of update attempts to show")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	led, err := ledger.Open(filepath.Join(cfg.DataDir, "metadata.json"), newLogger())
	if err != nil {
		return fmt.Errorf("opening version ledger: %w", err)
	}
	meta := led.Metadata()

	out := cmd.OutOrStdout()
	if meta.CurrentVersion == 0 {
		fmt.Fprintln(out, "No collection loaded yet. Run: drkb update <snapshot.xlsx>")
		return nil
	}

	fmt.Fprintf(out, "Version %d, updated %s\n", meta.CurrentVersion,
		meta.UpdatedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(out, "Events: %d  Chunks: %d\n",
		meta.Statistics.TotalEvents, meta.Statistics.TotalChunks)
	if dr := meta.Statistics.DateRange; dr.From != "" {
		fmt.Fprintf(out, "Date coverage: %s to %s\n", dr.From, dr.To)
	}

	printRanked(out, "Top hazards", meta.Statistics.TopHazards)
	printRanked(out, "Top locations", meta.Statistics.TopLocations)
	printHistory(out, led.History(historyLimit))
	return nil
}

func printRanked(out io.Writer, title string, items []ledger.NameCount) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(out, "  %5d  %s\n", it.Count, it.Name)
	}
}

// printHistory expects records newest first.
func printHistory(out io.Writer, history []ledger.UpdateRecord) {
	if len(history) == 0 {
		return
	}
	fmt.Fprintln(out, "\nRecent updates:")
	for _, rec := range history {
		fmt.Fprintf(out, "  v%-3d %s  %-11s %d new, %d modified, %d deleted",
			rec.Version, rec.Timestamp.Local().Format("2006-01-02 15:04"),
			rec.Status, rec.NewEvents, rec.ModifiedEvents, rec.DeletedEvents)
		if rec.UpdatedBy != "" {
			fmt.Fprintf(out, "  by %s", rec.UpdatedBy)
		}
		if rec.Error != "" {
			fmt.Fprintf(out, "  (%s)", rec.Error)
		}
		fmt.Fprintln(out)
	}
}
