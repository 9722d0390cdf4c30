package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
)

// reportPageSize bounds memory while scanning a store for the report.
const reportPageSize = 1000

// NewReportCommand creates the report command.
func NewReportCommand() *cobra.Command {
	var (
		configPath string
		deck       string
		stake      string
		output     string
	)

	cmd := &cobra.Command{
		Use:           "report <criteria-id>",
		Short:         "Render an HTML score-distribution report for a criteria's results",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return runReport(cobraCmd.Context(), args[0], configPath, deck, stake, output)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path")
	cmd.Flags().StringVar(&deck, "deck", "", "restrict to one deck")
	cmd.Flags().StringVar(&stake, "stake", "", "restrict to one stake")
	cmd.Flags().StringVarP(&output, "output", "o", "seedfang-report.html", "output HTML file")

	return cmd
}

func runReport(ctx context.Context, criteriaID, configPath, deck, stake, output string) error {
	app, err := newApp(configPath, appOptions{mode: observability.ModeCLI})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	id := criteria.NormalizeID(criteriaID)

	keys, err := app.Stores.List(id)
	if err != nil {
		return err
	}

	scores := make(map[int]int)
	total := 0

	for _, key := range keys {
		if deck != "" && key.Deck != deck {
			continue
		}

		if stake != "" && key.Stake != stake {
			continue
		}

		count, scanErr := scanScores(ctx, app, key, scores)
		if scanErr != nil {
			return scanErr
		}

		total += count
	}

	if total == 0 {
		return fmt.Errorf("no results recorded for %s", id)
	}

	bar := buildScoreChart(id, scores)

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	err = bar.Render(f)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	fmt.Fprintf(os.Stdout, "wrote %s (%d results)\n", output, total)

	return nil
}

func scanScores(ctx context.Context, app *App, key criteria.Key, scores map[int]int) (int, error) {
	store, err := app.Stores.Open(key)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	total := 0
	offset := 0

	for {
		page, err := store.Page(ctx, offset, reportPageSize)
		if err != nil {
			return total, err
		}

		for _, m := range page {
			scores[m.Score]++
		}

		total += len(page)

		if len(page) < reportPageSize {
			return total, nil
		}

		offset += len(page)
	}
}

func buildScoreChart(criteriaID string, scores map[int]int) *charts.Bar {
	minScore, maxScore := scoreBounds(scores)

	labels := make([]string, 0, maxScore-minScore+1)
	data := make([]opts.BarData, 0, maxScore-minScore+1)

	for s := minScore; s <= maxScore; s++ {
		labels = append(labels, strconv.Itoa(s))
		data = append(data, opts.BarData{Value: scores[s]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Score distribution: " + criteriaID,
			Subtitle: "Matching seeds per score",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Score"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Seeds"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("seeds", data)

	return bar
}

func scoreBounds(scores map[int]int) (int, int) {
	first := true

	var minScore, maxScore int

	for s := range scores {
		if first {
			minScore, maxScore = s, s
			first = false

			continue
		}

		if s < minScore {
			minScore = s
		}

		if s > maxScore {
			maxScore = s
		}
	}

	return minScore, maxScore
}
