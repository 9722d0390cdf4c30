package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
)

// NewCriteriaCommand creates the criteria command group.
func NewCriteriaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "criteria",
		Short:         "Manage criteria documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newCriteriaSaveCommand())
	cmd.AddCommand(newCriteriaValidateCommand())
	cmd.AddCommand(newCriteriaFingerprintCommand())

	return cmd
}

func newCriteriaSaveCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Save a criteria document, invalidating stale results on semantic change",
		Long: `Save a criteria document into the criteria directory.

When the document's semantics differ from the accepted baseline, every
running search for it is stopped, accumulated seeds are exported to the
fertilizer list, and the stale result stores and checkpoints are deleted.
Metadata-only edits keep all accumulated state.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return runCriteriaSave(cobraCmd.Context(), configPath, args[0])
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path")

	return cmd
}

func runCriteriaSave(ctx context.Context, configPath, file string) error {
	app, err := newApp(configPath, appOptions{mode: observability.ModeCLI})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read criteria: %w", err)
	}

	err = criteria.ValidateDocument(data)
	if err != nil {
		return err
	}

	tree, err := criteria.DecodeTree(data)
	if err != nil {
		return err
	}

	id := criteria.NormalizeID(tree.Name)

	outcome, err := app.Coordinator.SaveCriteria(ctx, app.CriteriaPath(id), tree)
	if err != nil {
		return err
	}

	if !outcome.Changed {
		fmt.Fprintf(os.Stdout, "%s saved; semantics unchanged, results kept (fingerprint %s)\n",
			outcome.CriteriaID, outcome.Fingerprint.Short())

		return nil
	}

	warn := color.New(color.FgYellow)

	fmt.Fprintf(os.Stdout, "%s saved with new fingerprint %s\n", outcome.CriteriaID, outcome.Fingerprint.Short())
	warn.Fprintf(os.Stdout, "invalidated: %d sessions stopped, %d stores and %d checkpoints deleted\n",
		outcome.SessionsStopped, outcome.StoresDeleted, outcome.CheckpointsDeleted)

	if outcome.Export.SeedsExported > 0 {
		fmt.Fprintf(os.Stdout, "exported %d seeds to %s\n",
			outcome.Export.SeedsExported, app.Exporter.FertilizerPath())
	}

	return nil
}

func newCriteriaValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "validate <file>",
		Short:         "Validate a criteria document against the schema",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read criteria: %w", err)
			}

			err = criteria.ValidateDocument(data)
			if err != nil {
				return err
			}

			tree, err := criteria.DecodeTree(data)
			if err != nil {
				return err
			}

			ok := color.New(color.FgGreen)
			ok.Fprintf(os.Stdout, "%s is valid (%d must, %d should, %d must_not)\n",
				args[0], len(tree.Must), len(tree.Should), len(tree.MustNot))

			return nil
		},
	}
}

func newCriteriaFingerprintCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "fingerprint <file>",
		Short:         "Show a criteria document's semantic fingerprint and baseline status",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			app, err := newApp(configPath, appOptions{mode: observability.ModeCLI})
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			tree, err := criteria.LoadTree(args[0])
			if err != nil {
				return err
			}

			fp, matches, err := app.Coordinator.CheckFingerprint(tree)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "%s  %s\n", criteria.NormalizeID(tree.Name), fp)

			if matches {
				fmt.Fprintln(os.Stdout, "matches the accepted baseline; saving keeps all results")
			} else {
				color.New(color.FgYellow).Fprintln(os.Stdout,
					"differs from the accepted baseline; saving will invalidate accumulated results")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path")

	return cmd
}
