// Package anthropic provides an LLM service adapter using Anthropic API.
package anthropic

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
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-5-sonnet-latest"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 1024

	// AnthropicVersion is the required API version header.
	anthropicVersion = "2023-06-01"
)

// Config holds configuration for the Anthropic LLM service.
type Config struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.anthropic.com).
	BaseURL string

	// Model is the LLM model to use (default: claude-3-5-sonnet-latest).
	Model string

	// Timeout bounds a whole request including a streamed body (default: 120s).
	Timeout time.Duration

	// RequestsPerSecond throttles requests. Zero disables throttling.
	RequestsPerSecond float64
}

// LLMService provides LLM operations using Anthropic API.
type LLMService struct {
	client  *provider.Client
	baseURL string
	apiKey  string
	model   string
}

// messagesRequest is the Anthropic /v1/messages request format.
type messagesRequest struct {
	Model       string            `json:"model"`
	Messages    []messagesMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	System      string            `json:"system,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

// messagesMessage is the Anthropic message format.
type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamEvent covers the fields used from every streamed event type.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewLLMService creates a new Anthropic LLM service.
func NewLLMService(cfg Config) (*LLMService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic: API key is required", domain.ErrInvalidConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &LLMService{
		client:  provider.NewClient("anthropic", domain.ErrGeneration, cfg.Timeout, cfg.RequestsPerSecond),
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

	resp, err := s.client.PostJSON(ctx, s.baseURL+"/v1/messages", s.headers(), req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var cbErr error
	done := false
	err = provider.ReadSSE(resp.Body, func(ev provider.SSEEvent) error {
		var event streamEvent
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			return s.client.Fail("decode stream event: %w", err)
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				return nil
			}
			cbErr = onDelta(event.Delta.Text)
			return cbErr
		case "message_stop":
			done = true
			return errStop
		case "error":
			msg := "unknown error"
			if event.Error != nil {
				msg = event.Error.Type + ": " + event.Error.Message
			}
			// Overload errors arrive in-stream rather than as a 529.
			if event.Error != nil && event.Error.Type == "overloaded_error" {
				return s.client.Transient(ctx, errors.New(msg))
			}
			return s.client.Fail("stream error: %s", msg)
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
		return s.client.Transient(ctx, errors.New("stream ended without message_stop"))
	}
}

var errStop = errors.New("stop")

func (s *LLMService) request(messages []driven.ChatMessage, opts driven.ChatOptions) messagesRequest {
	var (
		system      []string
		apiMessages []messagesMessage
	)
	for _, msg := range messages {
		if msg.Role == driven.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		apiMessages = append(apiMessages, messagesMessage{Role: msg.Role, Content: msg.Content})
	}

	// Anthropic requires max_tokens to be set
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	return messagesRequest{
		Model:       s.model,
		Messages:    apiMessages,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Temperature: opts.Temperature,
	}
}

func (s *LLMService) headers() map[string]string {
	return map[string]string{
		"x-api-key":         s.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping validates the API key against the /v1/models endpoint without
// running inference.
func (s *LLMService) Ping(ctx context.Context) error {
	return s.client.Get(ctx, s.baseURL+"/v1/models", s.headers())
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}
