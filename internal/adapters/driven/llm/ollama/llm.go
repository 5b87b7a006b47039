// Package ollama provides an LLM service adapter using Ollama.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
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
	DefaultBaseURL    = "http://localhost:11434"
	DefaultLLMModel   = "llama3.2"
	DefaultLLMTimeout = 120 * time.Second
)

// LLMConfig holds configuration for the Ollama LLM service.
type LLMConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the LLM model to use (default: llama3.2).
	Model string

	// Timeout bounds a whole request including a streamed body (default: 120s).
	Timeout time.Duration

	// RequestsPerSecond throttles requests. Zero disables throttling.
	RequestsPerSecond float64
}

// LLMService provides LLM operations using Ollama.
type LLMService struct {
	client  *provider.Client
	baseURL string
	model   string
}

// options holds generation parameters.
type options struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// chatRequest is the Ollama /api/chat request format.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *options      `json:"options,omitempty"`
}

// chatMessage is the Ollama chat message format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is one /api/chat response object; streamed responses are
// newline-delimited sequences of these.
type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// NewLLMService creates a new Ollama LLM service.
func NewLLMService(cfg LLMConfig) *LLMService {
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
		client:  provider.NewClient("ollama", domain.ErrGeneration, cfg.Timeout, cfg.RequestsPerSecond),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}
}

// ChatStream conducts a multi-turn conversation, reading the
// newline-delimited JSON stream until an object reports done.
func (s *LLMService) ChatStream(
	ctx context.Context,
	messages []driven.ChatMessage,
	opts driven.ChatOptions,
	onDelta func(string) error,
) error {
	resp, err := s.client.PostJSON(ctx, s.baseURL+"/api/chat", nil, s.request(messages, opts))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk chatResponse
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("stream ended before done")
			}
			return s.client.Transient(ctx, err)
		}
		if chunk.Error != "" {
			return s.client.Fail("%s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onDelta(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}

func (s *LLMService) request(messages []driven.ChatMessage, opts driven.ChatOptions) chatRequest {
	chatMessages := make([]chatMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = chatMessage{Role: msg.Role, Content: msg.Content}
	}
	return chatRequest{
		Model:    s.model,
		Messages: chatMessages,
		Stream:   true,
		Options: &options{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
		},
	}
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping checks the /api/tags endpoint without running inference.
func (s *LLMService) Ping(ctx context.Context) error {
	return s.client.Get(ctx, s.baseURL+"/api/tags", nil)
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}
