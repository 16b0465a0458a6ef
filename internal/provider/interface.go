// Package provider constructs the chat model that synthesizes answers.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Google Gemini and
// Volcengine Ark, all through eino-ext model components.
package provider

import (
	"fmt"
	"slices"
	"strings"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API (or any compatible endpoint).
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama API endpoint (OLLAMA_HOST).
	Host string
	// Model is the Ollama model name (OLLAMA_MODEL).
	Model string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key (OPENAI_API_KEY).
	APIKey string
	// Model is the chat model name (OPENAI_MODEL).
	Model string
	// BaseURL optionally points at an OpenAI-compatible endpoint (OPENAI_BASE_URL).
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key (AZURE_OPENAI_API_KEY).
	APIKey string
	// Endpoint is the resource endpoint (AZURE_OPENAI_ENDPOINT).
	Endpoint string
	// Deployment is the chat deployment name (AZURE_OPENAI_DEPLOYMENT).
	Deployment string
	// APIVersion is the REST API version (AZURE_OPENAI_API_VERSION).
	APIVersion string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the Google API key (GOOGLE_API_KEY).
	APIKey string
	// Model is the Gemini model name (GEMINI_MODEL).
	Model string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	// APIKey is the Ark API key (ARK_API_KEY).
	APIKey string
	// Model is the Ark endpoint/model id (ARK_MODEL).
	Model string
	// BaseURL optionally overrides the Ark region endpoint (ARK_BASE_URL).
	BaseURL string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the answer length (MODEL_MAX_TOKENS).
	MaxTokens int
	// Temperature controls randomness (MODEL_TEMPERATURE).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the block matching
// Backend is consulted.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Gemini      ProviderGemini
	Ark         ProviderArk

	// Tuning holds shared generation parameters.
	Tuning SharedTuning
}

// Validate reports the first missing required setting for the selected
// backend, naming the env var that supplies it.
func (c *Config) Validate() error {
	var missing []string
	switch c.Backend {
	case BackendOllama:
		missing = required(map[string]string{"OLLAMA_HOST": c.Ollama.Host, "OLLAMA_MODEL": c.Ollama.Model})
	case BackendOpenAI:
		missing = required(map[string]string{"OPENAI_API_KEY": c.OpenAI.APIKey, "OPENAI_MODEL": c.OpenAI.Model})
	case BackendAzure:
		missing = required(map[string]string{
			"AZURE_OPENAI_API_KEY":    c.AzureOpenAI.APIKey,
			"AZURE_OPENAI_ENDPOINT":   c.AzureOpenAI.Endpoint,
			"AZURE_OPENAI_DEPLOYMENT": c.AzureOpenAI.Deployment,
		})
	case BackendGemini:
		missing = required(map[string]string{"GOOGLE_API_KEY": c.Gemini.APIKey, "GEMINI_MODEL": c.Gemini.Model})
	case BackendArk:
		missing = required(map[string]string{"ARK_API_KEY": c.Ark.APIKey, "ARK_MODEL": c.Ark.Model})
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, gemini, ark: %w", c.Backend, rag.ErrInvalidArgument)
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s: %w", c.Backend, strings.Join(missing, ", "), rag.ErrInvalidArgument)
	}
	return nil
}

// Model returns the model name configured for the selected backend.
func (c *Config) Model() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendGemini:
		return c.Gemini.Model
	case BackendArk:
		return c.Ark.Model
	}
	return ""
}

// SetModel overrides the model name of the selected backend. Empty names
// are ignored.
func (c *Config) SetModel(name string) {
	if name == "" {
		return
	}
	switch c.Backend {
	case BackendOllama:
		c.Ollama.Model = name
	case BackendOpenAI:
		c.OpenAI.Model = name
	case BackendAzure:
		c.AzureOpenAI.Deployment = name
	case BackendGemini:
		c.Gemini.Model = name
	case BackendArk:
		c.Ark.Model = name
	}
}

// required returns the sorted names of empty values.
func required(fields map[string]string) []string {
	var missing []string
	for name, v := range fields {
		if v == "" {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing
}

// isAzureReasoningModel reports whether an Azure deployment name is an
// o-series or codex reasoning model. These reject temperature and
// max_tokens, so the factory leaves them unset.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}
