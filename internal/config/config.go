// Package config loads robomonkey configuration from a YAML file and
// environment variables. Environment variables (prefix ROBOMONKEY_)
// override file values; a .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Chunker constants. The window and overlap are fixed so that chunk
// content hashes stay stable across runs and releases.
const (
	// MaxChunkChars is the sliding-window width W in characters.
	MaxChunkChars = 7000
	// ChunkOverlapChars is the window overlap O in characters.
	ChunkOverlapChars = 500
)

// Config is the complete robomonkey configuration.
type Config struct {
	DatabaseURL  string `yaml:"database_url"`
	SchemaPrefix string `yaml:"schema_prefix"`

	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Search     SearchConfig     `yaml:"search"`
	Daemon     DaemonConfig     `yaml:"daemon"`

	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	SocketPath  string `yaml:"socket_path"`
	MetricsAddr string `yaml:"metrics_addr"`
	TagRules    string `yaml:"tag_rules"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "ollama", "vllm", "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// Dimension is the fixed vector dimension. Vectors of any other
	// length are rejected as a configuration mismatch.
	Dimension int    `yaml:"dimension"`
	APIKey    string `yaml:"api_key"`
	// BatchSize is the number of chunks per provider call.
	BatchSize int `yaml:"batch_size"`
	// MaxChars truncates embedding inputs to this many characters.
	MaxChars int `yaml:"max_chars"`
	// TimeoutSec bounds a single provider request.
	TimeoutSec int `yaml:"timeout_sec"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	VectorTopK          int `yaml:"vector_top_k"`
	FTSTopK             int `yaml:"fts_top_k"`
	FinalTopK           int `yaml:"final_top_k"`
	ContextBudgetTokens int `yaml:"context_budget_tokens"`
	GraphDepth          int `yaml:"graph_depth"`
}

// DaemonConfig configures the worker pool and queue maintenance.
type DaemonConfig struct {
	GlobalMaxConcurrent  int `yaml:"global_max_concurrent"`
	MaxConcurrentPerRepo int `yaml:"max_concurrent_per_repo"`
	PollIntervalSec      int `yaml:"poll_interval_sec"`
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_sec"`
	DeadThresholdSec     int `yaml:"dead_threshold_sec"`
	RetentionDays        int `yaml:"retention_days"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		DatabaseURL:  "postgres://localhost:5432/robomonkey?sslmode=disable",
		SchemaPrefix: "robomonkey_",
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			BaseURL:    "http://localhost:11434",
			Dimension:  768,
			BatchSize:  100,
			MaxChars:   8192,
			TimeoutSec: 30,
		},
		Search: SearchConfig{
			VectorTopK:          30,
			FTSTopK:             30,
			FinalTopK:           12,
			ContextBudgetTokens: 12000,
			GraphDepth:          2,
		},
		Daemon: DaemonConfig{
			GlobalMaxConcurrent:  4,
			MaxConcurrentPerRepo: 2,
			PollIntervalSec:      5,
			HeartbeatIntervalSec: 30,
			DeadThresholdSec:     120,
			RetentionDays:        7,
		},
		LogLevel:   "info",
		SocketPath: defaultSocketPath(),
	}
}

func defaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/robomonkey.sock"
	}
	return home + "/.robomonkey/daemon.sock"
}

// Load reads configuration from path (optional; empty means defaults),
// then applies environment overrides.
func Load(path string) (*Config, error) {
	// Load .env if present; missing file is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from ROBOMONKEY_* environment variables.
func (c *Config) applyEnv() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv("ROBOMONKEY_" + key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv("ROBOMONKEY_" + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("DATABASE_URL", &c.DatabaseURL)
	envStr("SCHEMA_PREFIX", &c.SchemaPrefix)
	envStr("EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	envStr("EMBEDDINGS_MODEL", &c.Embeddings.Model)
	envStr("EMBEDDINGS_BASE_URL", &c.Embeddings.BaseURL)
	envInt("EMBEDDINGS_DIMENSION", &c.Embeddings.Dimension)
	envStr("EMBEDDINGS_API_KEY", &c.Embeddings.APIKey)
	envInt("EMBEDDING_BATCH_SIZE", &c.Embeddings.BatchSize)
	envInt("MAX_CHUNK_LENGTH", &c.Embeddings.MaxChars)
	envInt("VECTOR_TOP_K", &c.Search.VectorTopK)
	envInt("FTS_TOP_K", &c.Search.FTSTopK)
	envInt("FINAL_TOP_K", &c.Search.FinalTopK)
	envInt("CONTEXT_BUDGET_TOKENS", &c.Search.ContextBudgetTokens)
	envInt("GRAPH_DEPTH", &c.Search.GraphDepth)
	envInt("GLOBAL_MAX_CONCURRENT", &c.Daemon.GlobalMaxConcurrent)
	envInt("MAX_CONCURRENT_PER_REPO", &c.Daemon.MaxConcurrentPerRepo)
	envInt("POLL_INTERVAL_SEC", &c.Daemon.PollIntervalSec)
	envInt("HEARTBEAT_INTERVAL_SEC", &c.Daemon.HeartbeatIntervalSec)
	envInt("DEAD_THRESHOLD_SEC", &c.Daemon.DeadThresholdSec)
	envInt("RETENTION_DAYS", &c.Daemon.RetentionDays)
	envStr("LOG_LEVEL", &c.LogLevel)
	envStr("SOCKET_PATH", &c.SocketPath)
	envStr("METRICS_ADDR", &c.MetricsAddr)
	envStr("TAG_RULES", &c.TagRules)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.SchemaPrefix == "" {
		return fmt.Errorf("schema_prefix is required")
	}
	if !isValidSchemaPrefix(c.SchemaPrefix) {
		return fmt.Errorf("schema_prefix %q must start with a letter and contain only [a-z0-9_]", c.SchemaPrefix)
	}
	switch c.Embeddings.Provider {
	case "ollama", "vllm", "openai":
	default:
		return fmt.Errorf("embeddings provider %q is not one of ollama|vllm|openai", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive")
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embedding batch size must be positive")
	}
	if c.Search.VectorTopK <= 0 || c.Search.FTSTopK <= 0 || c.Search.FinalTopK <= 0 {
		return fmt.Errorf("search top_k values must be positive")
	}
	if c.Search.GraphDepth < 1 || c.Search.GraphDepth > 2 {
		return fmt.Errorf("graph_depth must be 1 or 2")
	}
	if c.Daemon.GlobalMaxConcurrent <= 0 || c.Daemon.MaxConcurrentPerRepo <= 0 {
		return fmt.Errorf("worker concurrency limits must be positive")
	}
	if c.Daemon.MaxConcurrentPerRepo > c.Daemon.GlobalMaxConcurrent {
		return fmt.Errorf("max_concurrent_per_repo cannot exceed global_max_concurrent")
	}
	return nil
}

func isValidSchemaPrefix(prefix string) bool {
	if prefix == "" {
		return false
	}
	for i, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	first := prefix[0]
	return first >= 'a' && first <= 'z'
}

// String renders the config for diagnostics with the API key masked.
func (c *Config) String() string {
	masked := *c
	if masked.Embeddings.APIKey != "" {
		masked.Embeddings.APIKey = "****"
	}
	out, _ := yaml.Marshal(&masked)
	return strings.TrimSpace(string(out))
}
