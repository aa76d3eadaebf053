package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirrorform/twind-go/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twind.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_NoFile(t *testing.T) {
	cfg, path, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if cfg == nil {
		t.Fatal("cfg is nil")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
model:
  backend: ollama
  ollama:
    host: http://localhost:11434
    model: llama3
embedding:
  primary:
    provider: ollama
    model: nomic-embed-text
  resilience:
    timeout: 30s
    max_retries: 2
llm:
  timeout: 90s
  max_concurrent: 4
qdrant:
  host: qdrant.internal
  port: 6334
  collection_prefix: twind
server:
  host: 0.0.0.0
  port: 9090
  rate_limit: 10
worker:
  workers: 8
  poll_interval: 500ms
  backoff_base: 10
retrieval:
  top_k: 8
  search_timeout: 15s
store:
  path: /var/lib/twind/twind.db
logging:
  level: debug
`)

	cfg, loaded, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != path {
		t.Errorf("loaded path = %q, want %q", loaded, path)
	}

	if cfg.Model.Backend != provider.BackendOllama {
		t.Errorf("Model.Backend = %q, want ollama", cfg.Model.Backend)
	}
	if cfg.Model.Ollama.Model != "llama3" {
		t.Errorf("Model.Ollama.Model = %q, want llama3", cfg.Model.Ollama.Model)
	}
	if cfg.Embedding.Primary.Model != "nomic-embed-text" {
		t.Errorf("Embedding.Primary.Model = %q", cfg.Embedding.Primary.Model)
	}
	if got := cfg.Embedding.Resilience.ResilientConfig().Timeout; got != 30*time.Second {
		t.Errorf("Embedding.Resilience.Timeout = %v, want 30s", got)
	}
	if got := cfg.LLM.ClientConfig().Timeout; got != 90*time.Second {
		t.Errorf("LLM.Timeout = %v, want 90s", got)
	}
	if cfg.LLM.MaxConcurrent != 4 {
		t.Errorf("LLM.MaxConcurrent = %d, want 4", cfg.LLM.MaxConcurrent)
	}
	if cfg.Qdrant.Host != "qdrant.internal" || cfg.Qdrant.Port != 6334 {
		t.Errorf("Qdrant = %s:%d, want qdrant.internal:6334", cfg.Qdrant.Host, cfg.Qdrant.Port)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	jc := cfg.Worker.JobsConfig()
	if jc.Workers != 8 || jc.PollInterval != 500*time.Millisecond {
		t.Errorf("Worker = %d workers, poll %v", jc.Workers, jc.PollInterval)
	}
	// Bare numbers are read as seconds.
	if jc.BackoffBase != 10*time.Second {
		t.Errorf("Worker.BackoffBase = %v, want 10s", jc.BackoffBase)
	}
	rc := cfg.Retrieval.EngineConfig()
	if rc.TopK != 8 || rc.SearchTimeout != 15*time.Second {
		t.Errorf("Retrieval = top_k %d, search_timeout %v", rc.TopK, rc.SearchTimeout)
	}
	if cfg.Store.Path != "/var/lib/twind/twind.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
qdrant:
  host: from-file
server:
  api_key: file-key
logging:
  level: warn
`)
	t.Setenv("QDRANT_HOST", "from-env")
	t.Setenv("TWIND_API_KEY", "env-key")
	t.Setenv("LOG_LEVEL", "error")

	cfg, _, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Qdrant.Host != "from-env" {
		t.Errorf("Qdrant.Host = %q, want from-env", cfg.Qdrant.Host)
	}
	if cfg.Server.APIKey != "env-key" {
		t.Errorf("Server.APIKey = %q, want env-key", cfg.Server.APIKey)
	}
	// The export step must not clobber an env var the operator set.
	if got := os.Getenv("LOG_LEVEL"); got != "error" {
		t.Errorf("LOG_LEVEL = %q, want error", got)
	}
}

func TestLoad_ExportsLoggingEnv(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: text
`)
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("LOG_FORMAT")

	if _, _, err := Load(path, testLogger()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("LOG_LEVEL"); got != "debug" {
		t.Errorf("LOG_LEVEL = %q, want debug", got)
	}
	if got := os.Getenv("LOG_FORMAT"); got != "text" {
		t.Errorf("LOG_FORMAT = %q, want text", got)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping\n")
	if _, _, err := Load(path, testLogger()); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "llm:\n  timeout: ninety\n")
	if _, _, err := Load(path, testLogger()); err == nil {
		t.Fatal("Load accepted invalid duration")
	}
}

func TestLoad_FallbackEmbedder(t *testing.T) {
	path := writeConfig(t, `
embedding:
  primary:
    provider: openai
    model: text-embedding-3-small
  fallback:
    provider: ollama
    model: nomic-embed-text
`)
	cfg, _, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Fallback == nil {
		t.Fatal("Embedding.Fallback is nil")
	}
	if cfg.Embedding.Fallback.Provider != "ollama" {
		t.Errorf("Fallback.Provider = %q, want ollama", cfg.Embedding.Fallback.Provider)
	}
}
