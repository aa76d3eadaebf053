// Package config provides YAML-based configuration for twind.
// Configuration is loaded with a layered precedence: defaults → YAML file →
// env vars. Environment variables always win, so container deployments can
// override any file setting without editing it.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. TWIND_CONFIG environment variable
//  3. ~/.twind/config.yaml
//  4. ./twind.yaml
//
// If no file is found the system runs from defaults plus env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirrorform/twind-go/internal/embedder"
	"github.com/mirrorform/twind-go/internal/jobs"
	"github.com/mirrorform/twind-go/internal/llm"
	"github.com/mirrorform/twind-go/internal/processor"
	"github.com/mirrorform/twind-go/internal/provider"
	"github.com/mirrorform/twind-go/internal/retrieval"
	"github.com/mirrorform/twind-go/internal/vecstore"
)

// Duration wraps time.Duration so YAML files can carry values like "90s" or
// "2m". Bare integers are read as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			*d = Duration(time.Duration(n) * time.Second)
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	return fmt.Errorf("config: duration must be a string like \"30s\" or a number of seconds")
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level YAML configuration structure. Sections either are
// the owning package's own config type or mirror it closely enough that a
// conversion method builds it.
type Config struct {
	// Model configures the LLM chat model provider.
	Model provider.Config `yaml:"model"`

	// Embedding configures the embedding backends and their resilience
	// wrapper.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// LLM tunes the completion client shared by enrichment and retrieval.
	LLM LLMConfig `yaml:"llm"`

	// Qdrant configures the vector store connection.
	Qdrant vecstore.QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Worker configures the background job pool.
	Worker WorkerConfig `yaml:"worker"`

	// Processor configures chunking and enrichment.
	Processor processor.Config `yaml:"processor"`

	// Retrieval tunes the retrieval pipeline.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Store configures the relational store.
	Store StoreConfig `yaml:"store"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// EmbeddingConfig wires the primary embedding backend, an optional fallback,
// and the resilience parameters around both.
type EmbeddingConfig struct {
	// Primary is the embedding backend used for all requests.
	Primary embedder.Config `yaml:"primary"`
	// Fallback, if set, is tried when the primary fails.
	Fallback *embedder.Config `yaml:"fallback"`
	// Resilience tunes timeout, retry, rate limit, and circuit breaking.
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ResilienceConfig mirrors embedder.ResilientConfig with YAML durations.
type ResilienceConfig struct {
	Timeout           Duration `yaml:"timeout"`
	MaxRetries        int      `yaml:"max_retries"`
	RetryBaseDelay    Duration `yaml:"retry_base_delay"`
	MaxConcurrent     int      `yaml:"max_concurrent"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	BreakerThreshold  int      `yaml:"breaker_threshold"`
	BreakerCooldown   Duration `yaml:"breaker_cooldown"`
}

// ResilientConfig converts to the embedder package's config type.
func (c ResilienceConfig) ResilientConfig() embedder.ResilientConfig {
	return embedder.ResilientConfig{
		Timeout:           c.Timeout.Std(),
		MaxRetries:        c.MaxRetries,
		RetryBaseDelay:    c.RetryBaseDelay.Std(),
		MaxConcurrent:     c.MaxConcurrent,
		RequestsPerSecond: c.RequestsPerSecond,
		BreakerThreshold:  c.BreakerThreshold,
		BreakerCooldown:   c.BreakerCooldown.Std(),
	}
}

// LLMConfig mirrors llm.ClientConfig with YAML durations.
type LLMConfig struct {
	Timeout        Duration `yaml:"timeout"`
	MaxRetries     int      `yaml:"max_retries"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
	MaxConcurrent  int      `yaml:"max_concurrent"`
}

// ClientConfig converts to the llm package's config type.
func (c LLMConfig) ClientConfig() llm.ClientConfig {
	return llm.ClientConfig{
		Timeout:        c.Timeout.Std(),
		MaxRetries:     c.MaxRetries,
		RetryBaseDelay: c.RetryBaseDelay.Std(),
		MaxConcurrent:  c.MaxConcurrent,
	}
}

// WorkerConfig mirrors jobs.Config with YAML durations.
type WorkerConfig struct {
	Workers      int      `yaml:"workers"`
	PollInterval Duration `yaml:"poll_interval"`
	MaxAttempts  int      `yaml:"max_attempts"`
	BackoffBase  Duration `yaml:"backoff_base"`
}

// JobsConfig converts to the jobs package's config type.
func (c WorkerConfig) JobsConfig() jobs.Config {
	return jobs.Config{
		Workers:      c.Workers,
		PollInterval: c.PollInterval.Std(),
		MaxAttempts:  c.MaxAttempts,
		BackoffBase:  c.BackoffBase.Std(),
	}
}

// RetrievalConfig mirrors retrieval.Config with YAML durations.
type RetrievalConfig struct {
	TopK                   int      `yaml:"top_k"`
	MaxParaphrases         int      `yaml:"max_paraphrases"`
	GeneralTopK            int      `yaml:"general_top_k"`
	VerifiedTopK           int      `yaml:"verified_top_k"`
	VerifiedBoostThreshold float64  `yaml:"verified_boost_threshold"`
	WorkingSetSize         int      `yaml:"working_set_size"`
	VerifiedGateTimeout    Duration `yaml:"verified_gate_timeout"`
	SearchTimeout          Duration `yaml:"search_timeout"`
}

// EngineConfig converts to the retrieval package's config type.
func (c RetrievalConfig) EngineConfig() retrieval.Config {
	return retrieval.Config{
		TopK:                   c.TopK,
		MaxParaphrases:         c.MaxParaphrases,
		GeneralTopK:            c.GeneralTopK,
		VerifiedTopK:           c.VerifiedTopK,
		VerifiedBoostThreshold: c.VerifiedBoostThreshold,
		WorkingSetSize:         c.WorkingSetSize,
		VerifiedGateTimeout:    c.VerifiedGateTimeout.Std(),
		SearchTimeout:          c.SearchTimeout.Std(),
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var
	// TWIND_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the per-IP sustained request rate (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst capacity.
	RateBurst int `yaml:"rate_burst"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	// Path is the SQLite database path. Empty selects ~/.twind/twind.db.
	Path string `yaml:"path"`
}

// LoggingConfig holds structured logging settings. Values are exported to
// LOG_LEVEL / LOG_FORMAT since the logging package is env-driven.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings. Values are exported to the
// LANGFUSE_* env vars read by the tracing package.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envOverrides maps env var names to the config fields they override.
// Applied after YAML parsing, so env always wins.
var envOverrides = []struct {
	envKey string
	apply  func(*Config, string)
}{
	{"TWIND_MODEL_BACKEND", func(c *Config, v string) { c.Model.Backend = provider.Backend(v) }},
	{"OLLAMA_HOST", func(c *Config, v string) { c.Model.Ollama.Host = v }},
	{"OLLAMA_MODEL", func(c *Config, v string) { c.Model.Ollama.Model = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.Model.OpenAI.APIKey = v }},
	{"OPENAI_MODEL", func(c *Config, v string) { c.Model.OpenAI.Model = v }},
	{"AZURE_OPENAI_API_KEY", func(c *Config, v string) { c.Model.AzureOpenAI.APIKey = v }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config, v string) { c.Model.AzureOpenAI.Endpoint = v }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config, v string) { c.Model.AzureOpenAI.Deployment = v }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config, v string) { c.Model.AzureOpenAI.APIVersion = v }},
	{"AWS_REGION", func(c *Config, v string) { c.Model.Bedrock.AWSRegion = v }},
	{"BEDROCK_MODEL_ID", func(c *Config, v string) { c.Model.Bedrock.ModelID = v }},
	{"GOOGLE_API_KEY", func(c *Config, v string) { c.Model.Gemini.APIKey = v }},
	{"GEMINI_MODEL", func(c *Config, v string) { c.Model.Gemini.Model = v }},
	{"TWIND_EMBEDDING_PROVIDER", func(c *Config, v string) { c.Embedding.Primary.Provider = v }},
	{"TWIND_EMBEDDING_MODEL", func(c *Config, v string) { c.Embedding.Primary.Model = v }},
	{"TWIND_EMBEDDING_ENDPOINT", func(c *Config, v string) { c.Embedding.Primary.Endpoint = v }},
	{"EMBEDDING_API_KEY", func(c *Config, v string) { c.Embedding.Primary.APIKey = v }},
	{"QDRANT_HOST", func(c *Config, v string) { c.Qdrant.Host = v }},
	{"QDRANT_PORT", func(c *Config, v string) { c.Qdrant.Port = atoiOr(v, c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config, v string) { c.Qdrant.APIKey = v }},
	{"QDRANT_TLS", func(c *Config, v string) { c.Qdrant.UseTLS = v == "true" || v == "1" }},
	{"TWIND_HOST", func(c *Config, v string) { c.Server.Host = v }},
	{"TWIND_PORT", func(c *Config, v string) { c.Server.Port = atoiOr(v, c.Server.Port) }},
	{"TWIND_API_KEY", func(c *Config, v string) { c.Server.APIKey = v }},
	{"TWIND_DB_PATH", func(c *Config, v string) { c.Store.Path = v }},
	{"TWIND_WORKERS", func(c *Config, v string) { c.Worker.Workers = atoiOr(v, c.Worker.Workers) }},
}

// envExports bridges YAML values into the env vars read by env-driven
// packages (logging, tracing). Existing env vars are never overwritten.
var envExports = []struct {
	envKey string
	value  func(*Config) string
}{
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads the YAML config (if any), applies env var overrides, and
// exports the env-driven settings. Returns the config and the path that was
// loaded, empty if no file was found.
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	var cfg Config

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else {
		log.Debug("config: no YAML config file found, using defaults and env vars")
	}

	applied := 0
	for _, o := range envOverrides {
		if v := os.Getenv(o.envKey); v != "" {
			o.apply(&cfg, v)
			applied++
		}
	}

	for _, e := range envExports {
		if v := e.value(&cfg); v != "" && os.Getenv(e.envKey) == "" {
			os.Setenv(e.envKey, v)
		}
	}

	if path != "" {
		log.Info("config: loaded YAML config",
			slog.String("path", path),
			slog.Int("env_overrides", applied),
		)
	}

	return &cfg, path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("TWIND_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".twind", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("twind.yaml"); err == nil {
		return "twind.yaml"
	}

	return ""
}

// atoiOr parses v as an int, returning fallback when it does not parse.
func atoiOr(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
