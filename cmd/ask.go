package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/epiintel/drkb/internal/app"
	"github.com/epiintel/drkb/internal/config"
	"github.com/epiintel/drkb/internal/index"
	"github.com/epiintel/drkb/internal/retrieve"
)

var showFilters bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Search the event collection",
	Long: `Ask runs hybrid retrieval over the loaded collection: the question is
parsed for date, hazard and location constraints, searched both semantically
and lexically, and the fused results are printed as numbered context blocks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&showFilters, "show-filters", false,
		"print the filters extracted from the question")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SearchTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	question := strings.Join(args, " ")
	parsed := a.Parser.Parse(question, time.Now())

	out := cmd.OutOrStdout()
	if showFilters {
		printFilters(out, parsed.Filters)
	}

	results, err := a.Retriever.Retrieve(ctx, parsed)
	if err != nil {
		if errors.Is(err, index.ErrNotLoaded) {
			fmt.Fprintln(out, "The collection is empty. Load a snapshot first:")
			fmt.Fprintln(out, "  drkb update <snapshot.xlsx>")
			return nil
		}
		return fmt.Errorf("retrieving: %w", err)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No matching events found.")
		return nil
	}

	fmt.Fprintln(out, retrieve.FormatContext(results))
	return nil
}

func printFilters(out io.Writer, f index.Filters) {
	if f.Empty() {
		fmt.Fprintln(out, "Filters: none")
		return
	}
	var parts []string
	if f.DateFrom != nil {
		parts = append(parts, "from "+f.DateFrom.Format(time.DateOnly))
	}
	if f.DateTo != nil {
		parts = append(parts, "to "+f.DateTo.Format(time.DateOnly))
	}
	if f.Hazard != "" {
		parts = append(parts, "hazard="+f.Hazard)
	}
	if f.Location != "" {
		parts = append(parts, "location="+f.Location)
	}
	fmt.Fprintln(out, "Filters:", strings.Join(parts, ", "))
}
