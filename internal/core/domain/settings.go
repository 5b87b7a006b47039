package domain

import (
	"fmt"
	"time"
)

// AIProvider identifies an embedding or generation backend.
type AIProvider string

// Available AI providers.
const (
	// AIProviderHashing is the built-in deterministic feature-hashing embedder.
	AIProviderHashing AIProvider = "hashing"

	// AIProviderExtractive is the built-in generator that answers from
	// retrieved passages without a language model.
	AIProviderExtractive AIProvider = "extractive"

	// AIProviderOllama is local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is Anthropic cloud API.
	AIProviderAnthropic AIProvider = "anthropic"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderHashing, AIProviderExtractive, AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic
}

// IsLocal returns true if this provider runs without a network service.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderHashing || p == AIProviderExtractive
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderHashing:
		return "Hashing (built-in, offline)"
	case AIProviderExtractive:
		return "Extractive (built-in, offline)"
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAnthropic:
		return "Anthropic (cloud)"
	default:
		return unknownDescription
	}
}

// Backend selects a storage implementation.
type Backend string

// Storage backends.
const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendBolt   Backend = "bolt"
	BackendRedis  Backend = "redis"
)

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	Provider   AIProvider
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int

	// RequestsPerSecond throttles calls to remote providers. Zero disables it.
	RequestsPerSecond float64
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() || e.Provider == AIProviderExtractive || e.Provider == AIProviderAnthropic {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// HashingSearchThreshold is the default similarity cutoff for the hashing
// embedder, whose sparse vectors score far lower than neural embeddings.
const HashingSearchThreshold = 0.2

// SuggestedThreshold returns the default similarity cutoff for the provider.
func (e EmbeddingSettings) SuggestedThreshold() float64 {
	if e.Provider == AIProviderHashing {
		return HashingSearchThreshold
	}
	return DefaultSearchThreshold
}

// LLMSettings holds answer generator configuration.
type LLMSettings struct {
	Provider          AIProvider
	Model             string
	BaseURL           string
	APIKey            string
	Temperature       float64
	MaxTokens         int
	RequestsPerSecond float64
}

// IsConfigured returns true if the generator is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() || l.Provider == AIProviderHashing {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// ChunkingSettings configures the chunker window.
type ChunkingSettings struct {
	TargetSize    int
	Overlap       int
	SnapTolerance int
}

// RetrievalSettings configures query-time retrieval.
type RetrievalSettings struct {
	Limit     int
	Threshold float64

	// RoutingThreshold is the routing confidence below which retrieval is
	// not narrowed by category.
	RoutingThreshold float64
}

// RetrySettings is a bounded exponential backoff policy.
type RetrySettings struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// SessionSettings configures session lifetime.
type SessionSettings struct {
	Timeout       time.Duration
	MaxHistory    int
	SweepInterval time.Duration
}

// IngestionSettings bounds ingestion work.
type IngestionSettings struct {
	MaxConcurrent  int
	Timeout        time.Duration
	EmbedBatchSize int
}

// StorageSettings selects and locates persistence.
type StorageSettings struct {
	DataDir   string
	Documents Backend
	Vectors   Backend
	Sessions  Backend
	RedisAddr string
	RedisDB   int
}

// Config is the explicit configuration threaded through constructors.
type Config struct {
	Embedding EmbeddingSettings
	LLM       LLMSettings
	Chunking  ChunkingSettings
	Retrieval RetrievalSettings
	Retry     RetrySettings
	Session   SessionSettings
	Ingestion IngestionSettings
	Storage   StorageSettings

	// RulesFile and FormulasFile override the built-in compliance rule
	// and calculation formula tables when set.
	RulesFile    string
	FormulasFile string
	RoutesFile   string

	// StreamBuffer is the capacity of each query's event channel.
	StreamBuffer int
}

// DefaultConfig returns configuration that works offline out of the box.
func DefaultConfig() Config {
	return Config{
		Embedding: EmbeddingSettings{
			Provider:   AIProviderHashing,
			Model:      "hashing-v1",
			Dimensions: 384,
		},
		LLM: LLMSettings{
			Provider:    AIProviderExtractive,
			Model:       "extractive-v1",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Chunking: ChunkingSettings{
			TargetSize:    1000,
			Overlap:       200,
			SnapTolerance: 200,
		},
		Retrieval: RetrievalSettings{
			Limit:            DefaultSearchLimit,
			Threshold:        DefaultSearchThreshold,
			RoutingThreshold: 0.35,
		},
		Retry: RetrySettings{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2,
		},
		Session: SessionSettings{
			Timeout:       DefaultSessionTimeout,
			MaxHistory:    50,
			SweepInterval: time.Minute,
		},
		Ingestion: IngestionSettings{
			MaxConcurrent:  4,
			Timeout:        2 * time.Minute,
			EmbedBatchSize: 32,
		},
		Storage: StorageSettings{
			Documents: BackendSQLite,
			Vectors:   BackendBolt,
			Sessions:  BackendMemory,
		},
		StreamBuffer: 32,
	}
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	switch {
	case c.Chunking.TargetSize <= 0:
		return fmt.Errorf("%w: chunking target size must be positive", ErrInvalidConfiguration)
	case c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.TargetSize:
		return fmt.Errorf("%w: chunking overlap %d must be in [0, %d)",
			ErrInvalidConfiguration, c.Chunking.Overlap, c.Chunking.TargetSize)
	case c.Retrieval.Limit < 1 || c.Retrieval.Limit > MaxSearchLimit:
		return fmt.Errorf("%w: retrieval limit must be in [1, %d]", ErrInvalidConfiguration, MaxSearchLimit)
	case c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1:
		return fmt.Errorf("%w: retrieval threshold must be in [0, 1]", ErrInvalidConfiguration)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: retry attempts must be at least 1", ErrInvalidConfiguration)
	case c.Session.Timeout <= 0:
		return fmt.Errorf("%w: session timeout must be positive", ErrInvalidConfiguration)
	case c.Ingestion.MaxConcurrent < 1:
		return fmt.Errorf("%w: ingestion concurrency must be at least 1", ErrInvalidConfiguration)
	case c.Ingestion.Timeout <= 0:
		return fmt.Errorf("%w: ingestion timeout must be positive", ErrInvalidConfiguration)
	case c.Storage.Documents != BackendMemory && c.Storage.Documents != BackendSQLite:
		return fmt.Errorf("%w: documents backend must be memory or sqlite, got %q", ErrInvalidConfiguration, c.Storage.Documents)
	case c.Storage.Vectors != BackendMemory && c.Storage.Vectors != BackendBolt:
		return fmt.Errorf("%w: vectors backend must be memory or bolt, got %q", ErrInvalidConfiguration, c.Storage.Vectors)
	case c.Storage.Sessions != BackendMemory && c.Storage.Sessions != BackendRedis:
		return fmt.Errorf("%w: sessions backend must be memory or redis, got %q", ErrInvalidConfiguration, c.Storage.Sessions)
	case c.Storage.Sessions == BackendRedis && c.Storage.RedisAddr == "":
		return fmt.Errorf("%w: redis sessions need storage.redis_addr", ErrInvalidConfiguration)
	}
	return nil
}

// AllEmbeddingProviders returns providers that support embeddings.
func AllEmbeddingProviders() []AIProvider {
	return []AIProvider{AIProviderHashing, AIProviderOllama, AIProviderOpenAI}
}

// AllLLMProviders returns providers that can generate answers.
func AllLLMProviders() []AIProvider {
	return []AIProvider{AIProviderExtractive, AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderHashing: "hashing-v1",
		AIProviderOllama:  "nomic-embed-text",
		AIProviderOpenAI:  "text-embedding-3-small",
	}
}

// DefaultLLMModels returns default models for each LLM provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderExtractive: "extractive-v1",
		AIProviderOllama:     "llama3.2",
		AIProviderOpenAI:     "gpt-4o-mini",
		AIProviderAnthropic:  "claude-3-5-sonnet-latest",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		"hashing-v1":             384,
		"nomic-embed-text":       768,
		"mxbai-embed-large":      1024,
		"all-minilm":             384,
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
	}
}
