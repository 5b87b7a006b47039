// Package ai provides factory functions for creating AI service adapters.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/mizan/internal/adapters/driven/embedding/hashing"
	ollamaembed "github.com/custodia-labs/mizan/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/mizan/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/mizan/internal/adapters/driven/llm/anthropic"
	"github.com/custodia-labs/mizan/internal/adapters/driven/llm/extractive"
	ollamallm "github.com/custodia-labs/mizan/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/mizan/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// Services holds the AI adapters built from configuration.
type Services struct {
	Embedding driven.EmbeddingService
	LLM       driven.LLMService
}

// Close releases all resources held by the services.
func (s *Services) Close() error {
	var err error
	if s.Embedding != nil {
		err = s.Embedding.Close()
	}
	if s.LLM != nil {
		err = errors.Join(err, s.LLM.Close())
	}
	return err
}

// New creates both services from cfg without contacting any provider.
func New(cfg domain.Config) (*Services, error) {
	embed, err := CreateEmbeddingService(&cfg.Embedding)
	if err != nil {
		return nil, err
	}
	llm, err := CreateLLMService(&cfg.LLM)
	if err != nil {
		embed.Close()
		return nil, err
	}
	return &Services{Embedding: embed, LLM: llm}, nil
}

// ValidateEmbeddingConfig creates an embedding service and pings it.
func ValidateEmbeddingConfig(ctx context.Context, settings *domain.EmbeddingSettings) error {
	svc, err := CreateEmbeddingService(settings)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := svc.Ping(ctx); err != nil {
		return fmt.Errorf("embedding provider %s unreachable: %w", settings.Provider, err)
	}
	return nil
}

// ValidateLLMConfig creates an LLM service and pings it.
func ValidateLLMConfig(ctx context.Context, settings *domain.LLMSettings) error {
	svc, err := CreateLLMService(settings)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := svc.Ping(ctx); err != nil {
		return fmt.Errorf("LLM provider %s unreachable: %w", settings.Provider, err)
	}
	return nil
}

// CreateEmbeddingService creates the embedding service named by settings.
func CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, fmt.Errorf("%w: embedding provider %q is not configured",
			domain.ErrInvalidConfiguration, providerOf(settings))
	}

	switch settings.Provider {
	case domain.AIProviderHashing:
		return hashing.NewEmbeddingService(settings.Dimensions), nil

	case domain.AIProviderOllama:
		return ollamaembed.NewEmbeddingService(ollamaembed.Config{
			BaseURL:           settings.BaseURL,
			Model:             settings.Model,
			Dimensions:        settings.Dimensions,
			RequestsPerSecond: settings.RequestsPerSecond,
		}), nil

	case domain.AIProviderOpenAI:
		return openaiembed.NewEmbeddingService(openaiembed.Config{
			APIKey:            settings.APIKey,
			BaseURL:           settings.BaseURL,
			Model:             settings.Model,
			Dimensions:        settings.Dimensions,
			RequestsPerSecond: settings.RequestsPerSecond,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider: %s", domain.ErrInvalidConfiguration, settings.Provider)
	}
}

// CreateLLMService creates the answer generator named by settings.
func CreateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		var provider domain.AIProvider
		if settings != nil {
			provider = settings.Provider
		}
		return nil, fmt.Errorf("%w: LLM provider %q is not configured", domain.ErrInvalidConfiguration, provider)
	}

	switch settings.Provider {
	case domain.AIProviderExtractive:
		return extractive.NewLLMService(), nil

	case domain.AIProviderOllama:
		return ollamallm.NewLLMService(ollamallm.LLMConfig{
			BaseURL:           settings.BaseURL,
			Model:             settings.Model,
			RequestsPerSecond: settings.RequestsPerSecond,
		}), nil

	case domain.AIProviderOpenAI:
		return openaillm.NewLLMService(openaillm.LLMConfig{
			APIKey:            settings.APIKey,
			BaseURL:           settings.BaseURL,
			Model:             settings.Model,
			RequestsPerSecond: settings.RequestsPerSecond,
		})

	case domain.AIProviderAnthropic:
		return anthropicllm.NewLLMService(anthropicllm.Config{
			APIKey:            settings.APIKey,
			BaseURL:           settings.BaseURL,
			Model:             settings.Model,
			RequestsPerSecond: settings.RequestsPerSecond,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", domain.ErrInvalidConfiguration, settings.Provider)
	}
}

func providerOf(settings *domain.EmbeddingSettings) domain.AIProvider {
	if settings == nil {
		return ""
	}
	return settings.Provider
}
