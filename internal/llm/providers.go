// Package llm builds chat models and embedders from environment
// credentials. Model routing is by model id: gemini models go to the
// Google AI API directly, everything else goes through OpenRouter.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"datachat-agent/internal/utils"
)

// Provider identifies which API serves a model.
type Provider string

const (
	ProviderGoogle     Provider = "google"
	ProviderOpenRouter Provider = "openrouter"

	openRouterBaseURL = "https://openrouter.ai/api/v1"

	// DefaultEmbeddingModel backs the retrieval index.
	DefaultEmbeddingModel = "text-embedding-004"
)

// Config holds what provider initialization needs.
type Config struct {
	ModelID string
	Logger  utils.ExtendedLogger
}

// ProviderFor routes a model id to its provider.
func ProviderFor(modelID string) Provider {
	if strings.HasPrefix(strings.ToLower(modelID), "gemini") {
		return ProviderGoogle
	}
	return ProviderOpenRouter
}

// Initialize creates the chat model serving the given model id. Missing
// credentials fail fast with the variable name in the error.
func Initialize(ctx context.Context, config Config) (llms.Model, error) {
	provider := ProviderFor(config.ModelID)
	config.Logger.Infof("[LLM] initializing %s via %s", config.ModelID, provider)

	switch provider {
	case ProviderGoogle:
		return initializeGoogle(ctx, config)
	case ProviderOpenRouter:
		return initializeOpenRouter(config)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

func initializeGoogle(ctx context.Context, config Config) (llms.Model, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY environment variable is required")
	}

	model, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(config.ModelID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI model: %w", err)
	}
	return model, nil
}

func initializeOpenRouter(config Config) (llms.Model, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable is required")
	}

	model, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithBaseURL(openRouterBaseURL),
		openai.WithModel(config.ModelID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenRouter model: %w", err)
	}
	return model, nil
}

// NewEmbedder creates the Google embedder backing the retrieval index.
func NewEmbedder(ctx context.Context, logger utils.ExtendedLogger) (embeddings.Embedder, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY environment variable is required")
	}

	client, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultEmbeddingModel(DefaultEmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	logger.Infof("[LLM] embedder ready (%s)", DefaultEmbeddingModel)
	return embedder, nil
}
