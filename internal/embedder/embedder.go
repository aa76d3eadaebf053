// Package embedder converts text into dense vector embeddings. Each backend
// (OpenAI, Azure OpenAI, Ollama) is reached via plain HTTP — no additional
// SDK dependencies are required. The Resilient wrapper adds the retry,
// rate-limit, and circuit-breaker behavior the processing pipeline relies on.
package embedder

import (
	"context"
	"fmt"
)

// Embedder converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice. Implementations must be
// safe to call from multiple goroutines.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ — override in config.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Config selects and parameterizes one embedding backend.
type Config struct {
	// Provider is the backend name: ollama, openai, or azure.
	Provider string `yaml:"provider"`
	// Model is the embedding model name. Empty selects the backend default.
	Model string `yaml:"model"`
	// Endpoint overrides the backend base URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the backend credential. Unused for ollama.
	APIKey string `yaml:"api_key"`
	// APIVersion is the Azure OpenAI API version. Ignored elsewhere.
	APIVersion string `yaml:"api_version"`
	// Dimensions is the embedding vector length. Zero selects the backend
	// default (ollama: 768, openai/azure: 1536).
	Dimensions int `yaml:"dimensions"`
}

// DefaultDimensions returns the effective embedding vector size for the
// config. Callers that pre-configure the vector store (collection creation)
// should use this rather than hardcoding a value.
func (c Config) DefaultDimensions() int {
	if c.Dimensions > 0 {
		return c.Dimensions
	}
	if c.Provider == "ollama" {
		return defaultOllamaDimensions
	}
	return defaultOpenAIDimensions
}

// New constructs an Embedder for the configured backend.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		host := cfg.Endpoint
		if host == "" {
			host = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires an API key")
		}
		baseURL := cfg.Endpoint
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
		}), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires an API key")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires an endpoint")
		}
		apiVersion := cfg.APIVersion
		if apiVersion == "" {
			apiVersion = "2025-04-01-preview"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: apiVersion,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure", cfg.Provider)
	}
}
