// Package openai provides an LLM service adapter using OpenAI API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/mizan/internal/adapters/driven/provider"
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultLLMModel   = "gpt-4o-mini"
	DefaultLLMTimeout = 120 * time.Second

	streamDone = "[DONE]"
)

// LLMConfig holds configuration for the OpenAI LLM service.
type LLMConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	// Can be changed for Azure OpenAI or compatible APIs.
	BaseURL string

	// Model is the LLM model to use (default: gpt-4o-mini).
	Model string

	// Timeout bounds a whole request including a streamed body (default: 120s).
	Timeout time.Duration

	// RequestsPerSecond throttles requests. Zero disables throttling.
	RequestsPerSecond float64
}

// LLMService provides LLM operations using OpenAI API.
type LLMService struct {
	client  *provider.Client
	baseURL string
	apiKey  string
	model   string
}

// chatCompletionRequest is the OpenAI /chat/completions request format.
type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

// chatCompletionMsg is the OpenAI chat message format.
type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionChunk is one streamed /chat/completions event.
type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewLLMService creates a new OpenAI LLM service.
func NewLLMService(cfg LLMConfig) (*LLMService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: API key is required", domain.ErrInvalidConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLLMTimeout
	}

	return &LLMService{
		client:  provider.NewClient("openai", domain.ErrGeneration, cfg.Timeout, cfg.RequestsPerSecond),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

// ChatStream conducts a multi-turn conversation over server-sent events.
func (s *LLMService) ChatStream(
	ctx context.Context,
	messages []driven.ChatMessage,
	opts driven.ChatOptions,
	onDelta func(string) error,
) error {
	req := s.request(messages, opts)
	req.Stream = true

	resp, err := s.client.PostJSON(ctx, s.baseURL+"/chat/completions", s.headers(), req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var cbErr error
	done := false
	err = provider.ReadSSE(resp.Body, func(ev provider.SSEEvent) error {
		if ev.Data == streamDone {
			done = true
			return errStop
		}
		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return s.client.Fail("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return s.client.Fail("stream error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if cbErr = onDelta(choice.Delta.Content); cbErr != nil {
				return cbErr
			}
		}
		return nil
	})
	switch {
	case cbErr != nil:
		return cbErr
	case done:
		return nil
	case errors.Is(err, domain.ErrGeneration):
		return err
	case err != nil:
		return s.client.Transient(ctx, err)
	default:
		return s.client.Transient(ctx, errors.New("stream ended without [DONE]"))
	}
}

var errStop = errors.New("stop")

func (s *LLMService) request(messages []driven.ChatMessage, opts driven.ChatOptions) chatCompletionRequest {
	chatMessages := make([]chatCompletionMsg, len(messages))
	for i, msg := range messages {
		chatMessages[i] = chatCompletionMsg{Role: msg.Role, Content: msg.Content}
	}
	return chatCompletionRequest{
		Model:       s.model,
		Messages:    chatMessages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
}

func (s *LLMService) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.apiKey}
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping validates the API key against the /models endpoint without running
// inference.
func (s *LLMService) Ping(ctx context.Context) error {
	return s.client.Get(ctx, s.baseURL+"/models", s.headers())
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}
