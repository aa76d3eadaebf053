// Package provider selects and constructs LLM backend implementations at
// runtime. Supported backends: Ollama, OpenAI, Azure OpenAI, AWS Bedrock,
// Google Gemini.
package provider

import (
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via Vertex AI or AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama-specific settings.
type ProviderOllama struct {
	// Host is the Ollama server base URL (default: http://localhost:11434).
	Host string `yaml:"host"`
	// Model is the model name to run (e.g. "llama3").
	Model string `yaml:"model"`
}

// ProviderOpenAI holds OpenAI-specific settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key.
	APIKey string `yaml:"api_key"`
	// Model is the model name (e.g. "gpt-4o").
	Model string `yaml:"model"`
}

// ProviderAzureOpenAI holds Azure OpenAI Service settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key.
	APIKey string `yaml:"api_key"`
	// Endpoint is the resource endpoint (https://<resource>.openai.azure.com).
	Endpoint string `yaml:"endpoint"`
	// Deployment is the deployment name to call.
	Deployment string `yaml:"deployment"`
	// APIVersion is the REST API version (default: 2024-02-01).
	APIVersion string `yaml:"api_version"`
}

// ProviderBedrock holds AWS Bedrock settings. AWS credentials are resolved
// via the standard SDK credential chain.
type ProviderBedrock struct {
	// AWSRegion is the region the model is hosted in.
	AWSRegion string `yaml:"aws_region"`
	// ModelID is the Bedrock model identifier.
	ModelID string `yaml:"model_id"`
	// Endpoint overrides the Bedrock-compatible runtime endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the runtime credential, when the endpoint requires one.
	APIKey string `yaml:"api_key"`
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the AI Studio API key.
	APIKey string `yaml:"api_key"`
	// Model is the model name (e.g. "gemini-1.5-pro").
	Model string `yaml:"model"`
}

// SharedTuning holds generation parameters common to all backends.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32 `yaml:"temperature"`
}

// Config holds all provider-level configuration. Backend selects which
// nested section is used; the others are ignored.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend `yaml:"backend"`

	Ollama      ProviderOllama      `yaml:"ollama"`
	OpenAI      ProviderOpenAI      `yaml:"openai"`
	AzureOpenAI ProviderAzureOpenAI `yaml:"azure"`
	Bedrock     ProviderBedrock     `yaml:"bedrock"`
	Gemini      ProviderGemini      `yaml:"gemini"`

	Tuning SharedTuning `yaml:"tuning"`
}

// Validate checks that the selected backend's section is complete. Errors
// name the config key the operator needs to set.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: model.ollama.model is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: model.openai.api_key is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: model.openai.model is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: model.azure.api_key is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: model.azure.endpoint is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: model.azure.deployment is required for azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: model.bedrock.model_id is required for bedrock backend")
		}
		if c.Bedrock.AWSRegion == "" {
			return fmt.Errorf("provider: model.bedrock.aws_region is required for bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: model.gemini.api_key is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: model.gemini.model is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, bedrock, gemini", c.Backend)
	}
	return nil
}
