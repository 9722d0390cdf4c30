package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	// An explicit path that does not exist is an error; no path falls back
	// to defaults.
	require.Error(t, err)

	cfg, err = LoadConfig("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, DefaultBatchExponent, cfg.Search.BatchExponent)
	assert.Equal(t, DefaultDeck, cfg.Search.Deck)
	assert.Equal(t, DefaultStake, cfg.Search.Stake)
	assert.True(t, cfg.Search.Resume)
	assert.Positive(t, cfg.Search.Threads)
	assert.InDelta(t, DefaultSampleRatio, cfg.Telemetry.SampleRatio, 0.001)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seedfang.yaml")

	content := `
data_dir: /tmp/seedfang-test
search:
  threads: 4
  batch_exponent: 5
  deck: plasma
telemetry:
  otlp_endpoint: localhost:4317
  sample_ratio: 0.25
log:
  level: debug
  format: json
`

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/seedfang-test", cfg.DataDir)
	assert.Equal(t, 4, cfg.Search.Threads)
	assert.Equal(t, 5, cfg.Search.BatchExponent)
	assert.Equal(t, "plasma", cfg.Search.Deck)
	assert.Equal(t, DefaultStake, cfg.Search.Stake, "unset keys keep defaults")
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SEEDFANG_SEARCH_THREADS", "9")
	t.Setenv("SEEDFANG_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Search.Threads)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := Config{
		DataDir: "/tmp/x",
		Search:  SearchConfig{Threads: 1, BatchExponent: 3},
	}

	bad := base
	bad.DataDir = ""
	assert.ErrorIs(t, bad.Validate(), ErrEmptyDataDir)

	bad = base
	bad.Search.Threads = 0
	assert.ErrorIs(t, bad.Validate(), ErrBadThreads)

	bad = base
	bad.Search.BatchExponent = 9
	assert.ErrorIs(t, bad.Validate(), ErrBadBatchExponent)

	bad = base
	bad.Telemetry.SampleRatio = 1.5
	assert.ErrorIs(t, bad.Validate(), ErrBadSampleRatio)
}

func TestDerivedDirs(t *testing.T) {
	t.Parallel()

	cfg := Config{DataDir: "/data/seedfang"}

	assert.Equal(t, "/data/seedfang/checkpoints", cfg.CheckpointDir())
	assert.Equal(t, "/data/seedfang/results", cfg.ResultsDir())
	assert.Equal(t, "/data/seedfang/export", cfg.ExportDir())
	assert.Equal(t, "/data/seedfang/criteria", cfg.CriteriaDir())
	assert.Equal(t, "/data/seedfang/wordlists", cfg.WordlistDir())
	assert.Equal(t, "/data/seedfang/state", cfg.StateDir())
}
