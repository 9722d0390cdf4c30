package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
)

// resultsFlags holds the results command's flag values.
type resultsFlags struct {
	configPath string
	deck       string
	stake      string
	limit      int
	offset     int
}

// NewResultsCommand creates the results command.
func NewResultsCommand() *cobra.Command {
	var flags resultsFlags

	cmd := &cobra.Command{
		Use:   "results <criteria-id>",
		Short: "List matching seeds recorded for a criteria",
		Long: `List matching seeds recorded for a criteria, ordered by descending score.

Without --deck and --stake, every store for the criteria is summarized;
with both, the matching seeds themselves are listed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return runResults(cobraCmd.Context(), args[0], &flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "config file path")
	cmd.Flags().StringVar(&flags.deck, "deck", "", "deck to list")
	cmd.Flags().StringVar(&flags.stake, "stake", "", "stake to list")
	cmd.Flags().IntVar(&flags.limit, "limit", 50, "maximum rows to list")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "rows to skip")

	return cmd
}

func runResults(ctx context.Context, criteriaID string, flags *resultsFlags) error {
	app, err := newApp(flags.configPath, appOptions{mode: observability.ModeCLI})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	id := criteria.NormalizeID(criteriaID)

	if flags.deck == "" || flags.stake == "" {
		return summarizeStores(ctx, app, id)
	}

	key := criteria.Key{CriteriaID: id, Deck: flags.deck, Stake: flags.stake}

	store, err := app.Stores.Open(key)
	if err != nil {
		return err
	}
	defer store.Close()

	matches, err := store.Page(ctx, flags.offset, flags.limit)
	if err != nil {
		return err
	}

	if len(matches) == 0 {
		fmt.Fprintf(os.Stdout, "no results for %s\n", key.String())

		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "Seed", "Score", "Found"})

	for i, m := range matches {
		t.AppendRow(table.Row{flags.offset + i + 1, m.Seed, m.Score, humanize.Time(m.FoundAt)})
	}

	t.Render()

	return nil
}

// summarizeStores prints one line per (deck, stake) store for the criteria.
func summarizeStores(ctx context.Context, app *App, criteriaID string) error {
	keys, err := app.Stores.List(criteriaID)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		fmt.Fprintf(os.Stdout, "no result stores for %s\n", criteriaID)

		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Deck", "Stake", "Results"})

	for _, key := range keys {
		store, openErr := app.Stores.Open(key)
		if openErr != nil {
			return openErr
		}

		count, countErr := store.Count(ctx)

		closeErr := store.Close()
		if countErr != nil {
			return countErr
		}

		if closeErr != nil {
			return closeErr
		}

		t.AppendRow(table.Row{key.Deck, key.Stake, count})
	}

	t.Render()

	return nil
}
