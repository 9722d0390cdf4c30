package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
	"github.com/Sumatoshi-tech/seedfang/internal/session"
)

// progressInterval is how often the live progress line refreshes.
const progressInterval = 2 * time.Second

// drainPageSize is how many new matches are printed per refresh.
const drainPageSize = 20

// searchFlags holds the search command's flag values.
type searchFlags struct {
	configPath string
	deck       string
	stake      string
	threads    int
	exponent   int
	minScore   int
	seed       string
	wordList   string
	dbList     string
	startBatch uint64
	noResume   bool
	metricsOn  string
	quiet      bool
}

// NewSearchCommand creates the search command.
func NewSearchCommand() *cobra.Command {
	var flags searchFlags

	cmd := &cobra.Command{
		Use:   "search <criteria-id>",
		Short: "Run a seed search for a saved criteria document",
		Long: `Run a seed search for a saved criteria document against a deck and stake.

The search resumes from its checkpoint when one exists. Interrupting with
Ctrl-C stops at the next batch boundary; accumulated results and the last
checkpoint survive for the next run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return runSearch(cobraCmd.Context(), args[0], &flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "config file path")
	cmd.Flags().StringVar(&flags.deck, "deck", "", "deck to search (default from config)")
	cmd.Flags().StringVar(&flags.stake, "stake", "", "stake to search (default from config)")
	cmd.Flags().IntVar(&flags.threads, "threads", 0, "engine worker count (default from config)")
	cmd.Flags().IntVar(&flags.exponent, "batch-exponent", -1, "keyspace partition exponent 0-7 (default from config)")
	cmd.Flags().IntVar(&flags.minScore, "min-score", -1, "minimum score for a seed to be recorded (default from config)")
	cmd.Flags().StringVar(&flags.seed, "seed", "", "evaluate exactly this seed instead of the keyspace")
	cmd.Flags().StringVar(&flags.wordList, "wordlist", "", "search seeds from this named word list")
	cmd.Flags().StringVar(&flags.dbList, "dblist", "", "search seeds from this named result database")
	cmd.Flags().Uint64Var(&flags.startBatch, "start-batch", 0, "batch offset to start at when no checkpoint exists")
	cmd.Flags().BoolVar(&flags.noResume, "no-resume", false, "ignore any existing checkpoint and start at batch 0")
	cmd.Flags().StringVar(&flags.metricsOn, "metrics-addr", "", "serve Prometheus /metrics on this address")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress the live progress line")

	return cmd
}

func runSearch(ctx context.Context, criteriaID string, flags *searchFlags) error {
	app, err := newApp(flags.configPath, appOptions{
		mode:        observability.ModeCLI,
		metricsAddr: flags.metricsOn,
	})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	crit := buildCriteria(app, criteriaID, flags)

	tree, err := criteria.LoadTree(app.CriteriaPath(crit.ID))
	if err != nil {
		return fmt.Errorf("load criteria %s: %w", crit.ID, err)
	}

	if flags.metricsOn != "" {
		stopMetrics := serveMetrics(flags.metricsOn, app)
		defer stopMetrics()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := app.Registry.StartSearch(ctx, crit, tree)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyRunning) {
			return fmt.Errorf("a search for %s is already running in this process", crit.Key().String())
		}

		return err
	}

	return watchSession(ctx, sess, flags.quiet)
}

// buildCriteria merges config defaults with command-line overrides.
func buildCriteria(app *App, criteriaID string, flags *searchFlags) criteria.Criteria {
	crit := criteria.Criteria{
		ID:            criteria.NormalizeID(criteriaID),
		Deck:          app.Cfg.Search.Deck,
		Stake:         app.Cfg.Search.Stake,
		Threads:       app.Cfg.Search.Threads,
		BatchExponent: app.Cfg.Search.BatchExponent,
		MinScore:      app.Cfg.Search.MinScore,
		Seed:          flags.seed,
		WordListID:    flags.wordList,
		DBListID:      flags.dbList,
		StartBatch:    flags.startBatch,
	}

	if flags.deck != "" {
		crit.Deck = flags.deck
	}

	if flags.stake != "" {
		crit.Stake = flags.stake
	}

	if flags.threads > 0 {
		crit.Threads = flags.threads
	}

	if flags.exponent >= 0 {
		crit.BatchExponent = flags.exponent
	}

	if flags.minScore >= 0 {
		crit.MinScore = flags.minScore
	}

	return crit
}

// watchSession follows the session to a terminal state, printing progress
// and newly found seeds. Context cancellation stops the session cleanly.
func watchSession(ctx context.Context, sess *session.Session, quiet bool) error {
	updates := sess.Subscribe()
	ticker := time.NewTicker(progressInterval)

	defer ticker.Stop()

	matchColor := color.New(color.FgGreen, color.Bold)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)

			stopErr := sess.Stop()
			if stopErr != nil {
				return stopErr
			}

			printFinal(sess)

			return nil

		case _, open := <-updates:
			if open {
				continue
			}

			// Channel closed: terminal state reached.
			flushMatches(context.Background(), sess, matchColor)
			printFinal(sess)

			return sess.Err()

		case <-ticker.C:
			flushMatches(ctx, sess, matchColor)

			if !quiet {
				printProgress(sess.Poll())
			}
		}
	}
}

func flushMatches(ctx context.Context, sess *session.Session, matchColor *color.Color) {
	for {
		matches, _, err := sess.DrainNewResults(ctx, drainPageSize)
		if err != nil || len(matches) == 0 {
			return
		}

		for _, m := range matches {
			fmt.Fprintf(os.Stdout, "%s score=%d\n", matchColor.Sprint(m.Seed), m.Score)
		}

		if len(matches) < drainPageSize {
			return
		}
	}
}

func printProgress(snap session.Snapshot) {
	line := fmt.Sprintf("\r%6.2f%%  %s seeds  %s found  %.0f seeds/ms",
		snap.PercentComplete,
		humanize.Comma(int64(snap.SeedsSearched)),
		humanize.Comma(int64(snap.ResultsFound)),
		snap.SeedsPerMS,
	)

	if snap.ETA != nil {
		line += "  eta " + snap.ETA.Round(time.Second).String()
	}

	fmt.Fprint(os.Stderr, line)
}

func printFinal(sess *session.Session) {
	snap := sess.Poll()

	fmt.Fprintf(os.Stderr, "\n%s: %s seeds searched, %s results\n",
		snap.State,
		humanize.Comma(int64(snap.SeedsSearched)),
		humanize.Comma(int64(snap.ResultsFound)),
	)
}

// serveMetrics exposes the app's Prometheus endpoint for the duration of
// the run.
func serveMetrics(addr string, app *App) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.MetricsHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		serveErr := srv.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			app.Logger.Warn("metrics server failed", "addr", addr, "error", serveErr)
		}
	}()

	return func() { _ = srv.Close() }
}
