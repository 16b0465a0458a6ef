package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// Default embedding models per backend.
const (
	// DefaultOpenAIModel is used for openai and azure when no model is given.
	DefaultOpenAIModel = "text-embedding-3-small"

	defaultOllamaModel = "nomic-embed-text"
	defaultGeminiModel = "text-embedding-004"
)

// Backend returns the effective embedding backend name.
// EMBEDDING_PROVIDER wins, then MODEL_PROVIDER, then "openai".
func Backend() string {
	if b := getEnv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	return getEnvOrDefault("MODEL_PROVIDER", "openai")
}

// ResolveModel returns the embedding model that [NewFromEnv] would use for
// the given selector.
func ResolveModel(model string) string {
	if model != "" {
		return model
	}
	if m := getEnv("EMBEDDING_MODEL"); m != "" {
		return m
	}
	switch Backend() {
	case "ollama":
		return defaultOllamaModel
	case "gemini":
		return defaultGeminiModel
	default:
		return DefaultOpenAIModel
	}
}

// NewFromEnv constructs a rag.Embedder using cascading defaults that inherit
// from the chat provider configuration when embedding-specific overrides are
// not set. model is the model selector; empty means EMBEDDING_MODEL or the
// backend default.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER: if unset, inherits MODEL_PROVIDER (default: openai)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_API_KEY: overrides the inherited API key
//  4. EMBEDDING_ENDPOINT: overrides the inherited endpoint
//  5. EMBEDDING_DIMENSIONS: requests a specific output size
func NewFromEnv(ctx context.Context, model string) (rag.Embedder, error) {
	backend := Backend()
	model = ResolveModel(model)
	dims := getEnvInt("EMBEDDING_DIMENSIONS", 0)

	switch backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), nil

	case "openai":
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY: %w", rag.ErrInvalidArgument)
		}
		baseURL := firstEnv("EMBEDDING_ENDPOINT", "OPENAI_BASE_URL")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dims,
		}), nil

	case "azure":
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY: %w", rag.ErrInvalidArgument)
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT: %w", rag.ErrInvalidArgument)
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dims,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	case "gemini":
		apiKey := firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY: %w", rag.ErrInvalidArgument)
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{APIKey: apiKey, Model: model, Dimensions: dims})

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: openai, azure, ollama, gemini: %w", backend, rag.ErrInvalidArgument)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
