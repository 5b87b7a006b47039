package driven

import "context"

// LLMService generates answers. Only streaming generation is offered:
// the pipeline screens text as it arrives.
//
// Failures wrap domain.ErrGeneration, and additionally domain.ErrTransient
// when a retry may succeed.
//
// Implementations include:
//   - Extractive (built-in, composes answers from retrieved passages)
//   - OpenAI (GPT-4o family)
//   - Anthropic (Claude)
//   - Ollama (local models)
type LLMService interface {
	// ChatStream answers the conversation, calling onDelta with each
	// fragment of text in generation order. It returns once generation
	// ends or onDelta fails or ctx is cancelled, and never calls onDelta
	// after returning.
	ChatStream(ctx context.Context, messages []ChatMessage, opts ChatOptions, onDelta func(string) error) error

	// ModelName returns the name of the LLM model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight test request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// ChatOptions configures chat behaviour.
type ChatOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature float64
}
