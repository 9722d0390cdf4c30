// Package main provides the entry point for the seedfang CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/seedfang/cmd/seedfang/commands"
	"github.com/Sumatoshi-tech/seedfang/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "seedfang",
		Short: "Seedfang - resumable combinatorial seed search",
		Long: `Seedfang searches the 35^8 seed keyspace for seeds matching criteria trees.

Commands:
  search    Run a seed search with checkpointed resume
  criteria  Save, validate, and fingerprint criteria documents
  results   List matching seeds
  report    Render an HTML score-distribution report
  mcp       Serve search control over the Model Context Protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewSearchCommand())
	rootCmd.AddCommand(commands.NewCriteriaCommand())
	rootCmd.AddCommand(commands.NewResultsCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(os.Stdout, version.String())
		},
	}
}
