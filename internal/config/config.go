// Package config loads seedfang settings from file, environment, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
)

// Default search settings.
const (
	DefaultBatchExponent = 3
	DefaultMinScore      = 1
	DefaultDeck          = "red"
	DefaultStake         = "white"
)

// Default data layout under the data dir.
const (
	DefaultDataDir       = ".seedfang"
	checkpointSubdir     = "checkpoints"
	resultsSubdir        = "results"
	exportSubdir         = "export"
	criteriaSubdir       = "criteria"
	wordlistSubdir       = "wordlists"
	invalidationSubdir   = "state"
	DefaultMetricsAddr   = ""
	DefaultOTLPEndpoint  = ""
	DefaultSampleRatio   = 1.0
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultResumeEnabled = true
)

// Config validation errors.
var (
	ErrEmptyDataDir     = errors.New("config: data_dir must not be empty")
	ErrBadSampleRatio   = errors.New("config: telemetry.sample_ratio must be in [0,1]")
	ErrBadThreads       = errors.New("config: search.threads must be positive")
	ErrBadBatchExponent = errors.New("config: search.batch_exponent out of range")
)

// Config is the root seedfang configuration.
type Config struct {
	// DataDir is the root under which checkpoints, result stores, exports,
	// criteria documents, and word lists live.
	DataDir string `mapstructure:"data_dir"`

	Search    SearchConfig    `mapstructure:"search"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// SearchConfig holds the default search parameters. Command-line flags
// override these per run.
type SearchConfig struct {
	Threads       int    `mapstructure:"threads"`
	BatchExponent int    `mapstructure:"batch_exponent"`
	MinScore      int    `mapstructure:"min_score"`
	Deck          string `mapstructure:"deck"`
	Stake         string `mapstructure:"stake"`

	// Resume reads the per-key checkpoint on start.
	Resume bool `mapstructure:"resume"`
}

// TelemetryConfig holds OpenTelemetry and Prometheus settings.
type TelemetryConfig struct {
	// OTLPEndpoint enables trace and metric export when non-empty.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// Insecure disables TLS on the OTLP connection.
	Insecure bool `mapstructure:"insecure"`

	// SampleRatio is the trace sampling ratio in [0,1].
	SampleRatio float64 `mapstructure:"sample_ratio"`

	// MetricsAddr serves a Prometheus /metrics endpoint when non-empty.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrEmptyDataDir
	}

	if c.Search.Threads <= 0 {
		return ErrBadThreads
	}

	if c.Search.BatchExponent < 0 || c.Search.BatchExponent > criteria.MaxBatchExponent {
		return fmt.Errorf("%w: %d", ErrBadBatchExponent, c.Search.BatchExponent)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrBadSampleRatio, c.Telemetry.SampleRatio)
	}

	return nil
}

// CheckpointDir returns the checkpoint directory under the data dir.
func (c *Config) CheckpointDir() string { return filepath.Join(c.DataDir, checkpointSubdir) }

// ResultsDir returns the result store directory under the data dir.
func (c *Config) ResultsDir() string { return filepath.Join(c.DataDir, resultsSubdir) }

// ExportDir returns the export directory under the data dir.
func (c *Config) ExportDir() string { return filepath.Join(c.DataDir, exportSubdir) }

// CriteriaDir returns the criteria document directory under the data dir.
func (c *Config) CriteriaDir() string { return filepath.Join(c.DataDir, criteriaSubdir) }

// WordlistDir returns the word list directory under the data dir.
func (c *Config) WordlistDir() string { return filepath.Join(c.DataDir, wordlistSubdir) }

// StateDir returns the invalidation state directory under the data dir.
func (c *Config) StateDir() string { return filepath.Join(c.DataDir, invalidationSubdir) }

// DefaultThreads returns the default engine worker count.
func DefaultThreads() int {
	return runtime.NumCPU()
}
