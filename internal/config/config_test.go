package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "person_facts.db", cfg.Store.SQLitePath)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 3, cfg.Anthropic.Concurrency)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "qwen3:8b", cfg.Ollama.Model)
	assert.Equal(t, 300, cfg.Pipeline.SampleBudget)
	assert.Equal(t, 300, cfg.Pipeline.BatchSize)
	assert.Equal(t, "the user", cfg.Pipeline.UserName)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 3, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 60, cfg.Circuit.ResetTimeoutSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  postgres_dsn: postgres://localhost/facts
  pool:
    max_conns: 20
pipeline:
  sample_budget: 100
  user_name: Dana
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/facts", cfg.Store.PostgresDSN)
	assert.Equal(t, int32(20), cfg.Store.Pool.MaxConns)
	assert.Equal(t, 100, cfg.Pipeline.SampleBudget)
	assert.Equal(t, "Dana", cfg.Pipeline.UserName)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Untouched sections keep their defaults.
	assert.Equal(t, "qwen3:8b", cfg.Ollama.Model)
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FACTS_STORE_DRIVER", "postgres")
	t.Setenv("FACTS_PIPELINE_SAMPLE_BUDGET", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 50, cfg.Pipeline.SampleBudget)
}

func TestRetryCircuitConversion(t *testing.T) {
	retry := RetryConfig{MaxAttempts: 5, InitialBackoffMs: 200, Multiplier: 3}.ToRetryConfig()
	assert.Equal(t, 5, retry.MaxAttempts)
	assert.Equal(t, 200, int(retry.InitialBackoff.Milliseconds()))
	assert.InDelta(t, 3.0, retry.Multiplier, 0.001)

	circuit := CircuitConfig{FailureThreshold: 7, ResetTimeoutSecs: 30}.ToCircuitConfig()
	assert.Equal(t, 7, circuit.FailureThreshold)
	assert.Equal(t, 30, int(circuit.ResetTimeout.Seconds()))
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
