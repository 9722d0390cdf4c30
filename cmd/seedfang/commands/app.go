// Package commands implements the seedfang CLI commands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Sumatoshi-tech/seedfang/internal/checkpoint"
	"github.com/Sumatoshi-tech/seedfang/internal/config"
	"github.com/Sumatoshi-tech/seedfang/internal/engine"
	"github.com/Sumatoshi-tech/seedfang/internal/invalidate"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
	"github.com/Sumatoshi-tech/seedfang/internal/session"
	"github.com/Sumatoshi-tech/seedfang/internal/wordlist"
	"github.com/Sumatoshi-tech/seedfang/pkg/version"
)

// App bundles the wired application: configuration, telemetry, and the
// search subsystem. Commands build one App, use it, and Close it.
type App struct {
	Cfg       *config.Config
	Providers observability.Providers
	Metrics   *observability.SearchMetrics

	// MetricsHandler is the Prometheus scrape handler, set only when the
	// app was built with a metrics address.
	MetricsHandler http.Handler

	Registry    *session.Registry
	Coordinator *invalidate.Coordinator
	Stores      *results.Manager
	Checkpoints *checkpoint.Store
	Exporter    *invalidate.Exporter
	Baselines   *invalidate.Baselines

	Logger *slog.Logger
}

// appOptions tweak App construction per command.
type appOptions struct {
	mode    observability.AppMode
	logJSON bool
	debug   bool

	// metricsAddr switches the search instruments onto a Prometheus
	// registry so the /metrics endpoint reflects the running search.
	metricsAddr string
}

// newApp loads configuration and wires the search subsystem.
func newApp(configPath string, opts appOptions) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Mode = opts.mode
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.Insecure
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.LogJSON = opts.logJSON || cfg.Log.Format == "json"
	obsCfg.LogLevel = logLevel(cfg.Log.Level, opts.debug)

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	meter := providers.Meter

	var metricsHandler http.Handler

	if opts.metricsAddr != "" {
		metricsHandler, meter, err = observability.PrometheusHandler()
		if err != nil {
			return nil, err
		}
	}

	metrics, err := observability.NewSearchMetrics(meter)
	if err != nil {
		return nil, err
	}

	stores, err := results.NewManager(cfg.ResultsDir())
	if err != nil {
		return nil, err
	}

	checkpoints, err := checkpoint.NewStore(cfg.CheckpointDir())
	if err != nil {
		return nil, err
	}

	baselines, err := invalidate.NewBaselines(cfg.StateDir())
	if err != nil {
		return nil, err
	}

	exporter, err := invalidate.NewExporter(cfg.ExportDir(), providers.Logger)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(cfg.CriteriaDir(), 0o750)
	if err != nil {
		return nil, fmt.Errorf("create criteria dir: %w", err)
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Engine:      engine.NewLocal(),
		Checkpoints: checkpoints,
		Stores:      stores,
		Words:       wordlist.NewResolver(cfg.WordlistDir()),
		Logger:      providers.Logger,
		Metrics:     metrics,
	})

	coordinator := invalidate.NewCoordinator(invalidate.CoordinatorConfig{
		Baselines:   baselines,
		Registry:    registry,
		Stores:      stores,
		Checkpoints: checkpoints,
		Exporter:    exporter,
		Logger:      providers.Logger,
	})

	return &App{
		Cfg:            cfg,
		Providers:      providers,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Registry:       registry,
		Coordinator:    coordinator,
		Stores:         stores,
		Checkpoints:    checkpoints,
		Exporter:       exporter,
		Baselines:      baselines,
		Logger:         providers.Logger,
	}, nil
}

// Close flushes telemetry.
func (a *App) Close(ctx context.Context) {
	err := a.Providers.Shutdown(ctx)
	if err != nil {
		a.Logger.Warn("observability shutdown failed", "error", err)
	}
}

// CriteriaPath returns the canonical document path for a criteria id.
func (a *App) CriteriaPath(id string) string {
	return filepath.Join(a.Cfg.CriteriaDir(), id+".yaml")
}

func logLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
