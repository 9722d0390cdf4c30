package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/seedfang/internal/mcp"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes seed search control as tools that AI agents can
discover and invoke:
  - seedfang_search_start: start or resume a search
  - seedfang_search_status: poll progress and drain new matches
  - seedfang_search_stop: stop one or all sessions for a criteria
  - seedfang_criteria_save: save a document, invalidating stale results
  - seedfang_criteria_fingerprint: check a document against its baseline`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			app, err := newApp(configPath, appOptions{
				mode:    observability.ModeMCP,
				logJSON: true,
				debug:   debug,
			})
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			toolMetrics, err := observability.NewToolMetrics(app.Providers.Meter)
			if err != nil {
				return err
			}

			srv := mcp.NewServer(mcp.ServerDeps{
				Registry:    app.Registry,
				Coordinator: app.Coordinator,
				CriteriaDir: app.Cfg.CriteriaDir(),
				Logger:      app.Logger,
				Metrics:     toolMetrics,
				Tracer:      app.Providers.Tracer,
			})

			return srv.Run(cobraCmd.Context())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")

	return cmd
}
