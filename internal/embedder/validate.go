package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat models
// which are NOT suitable for embedding. If the configured model matches any
// of these, a warning is emitted so the operator knows the pipeline may be
// misconfigured.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate checks that an embedding config is complete enough to construct a
// backend. Call it at startup so operators get a clear error rather than a
// cryptic failure during the first embed call. It also warns when the model
// name looks like a chat model.
func Validate(cfg Config, log *slog.Logger) error {
	switch cfg.Provider {
	case "", "ollama":
		// Ollama needs no credentials; the default host works locally.

	case "openai":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: openai backend configured without an API key")
		}

	case "azure":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: azure backend configured without an API key")
		}
		if cfg.Endpoint == "" {
			return fmt.Errorf("embedder: azure backend configured without an endpoint")
		}

	default:
		return fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure", cfg.Provider)
	}

	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: configured model looks like a chat model, not an embedding model",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	return nil
}
