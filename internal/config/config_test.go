package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "robomonkey_", cfg.SchemaPrefix)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 100, cfg.Embeddings.BatchSize)
	assert.Equal(t, 8192, cfg.Embeddings.MaxChars)
	assert.Equal(t, 30, cfg.Search.VectorTopK)
	assert.Equal(t, 30, cfg.Search.FTSTopK)
	assert.Equal(t, 12, cfg.Search.FinalTopK)
	assert.Equal(t, 12000, cfg.Search.ContextBudgetTokens)
	assert.Equal(t, 2, cfg.Search.GraphDepth)
	assert.Equal(t, 4, cfg.Daemon.GlobalMaxConcurrent)
	assert.Equal(t, 2, cfg.Daemon.MaxConcurrentPerRepo)
	assert.Equal(t, 5, cfg.Daemon.PollIntervalSec)
	assert.Equal(t, 30, cfg.Daemon.HeartbeatIntervalSec)
	assert.Equal(t, 120, cfg.Daemon.DeadThresholdSec)
	assert.Equal(t, 7, cfg.Daemon.RetentionDays)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robomonkey.yaml")
	data := `
database_url: postgres://db:5432/ci
schema_prefix: ci_
embeddings:
  provider: vllm
  model: bge-m3
  base_url: http://vllm:8000
  dimension: 1024
search:
  final_top_k: 20
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://db:5432/ci", cfg.DatabaseURL)
	assert.Equal(t, "ci_", cfg.SchemaPrefix)
	assert.Equal(t, "vllm", cfg.Embeddings.Provider)
	assert.Equal(t, 1024, cfg.Embeddings.Dimension)
	assert.Equal(t, 20, cfg.Search.FinalTopK)
	// Untouched fields keep defaults.
	assert.Equal(t, 30, cfg.Search.VectorTopK)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROBOMONKEY_EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("ROBOMONKEY_EMBEDDINGS_DIMENSION", "1536")
	t.Setenv("ROBOMONKEY_GLOBAL_MAX_CONCURRENT", "8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, 1536, cfg.Embeddings.Dimension)
	assert.Equal(t, 8, cfg.Daemon.GlobalMaxConcurrent)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database_url", func(c *Config) { c.DatabaseURL = "" }},
		{"bad schema prefix", func(c *Config) { c.SchemaPrefix = "1bad" }},
		{"uppercase schema prefix", func(c *Config) { c.SchemaPrefix = "Repo_" }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "cohere" }},
		{"zero dimension", func(c *Config) { c.Embeddings.Dimension = 0 }},
		{"zero batch", func(c *Config) { c.Embeddings.BatchSize = 0 }},
		{"graph depth 3", func(c *Config) { c.Search.GraphDepth = 3 }},
		{"per-repo above global", func(c *Config) {
			c.Daemon.GlobalMaxConcurrent = 2
			c.Daemon.MaxConcurrentPerRepo = 4
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStringMasksAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Embeddings.APIKey = "sk-secret"
	assert.NotContains(t, cfg.String(), "sk-secret")
	assert.Contains(t, cfg.String(), "****")
}
