package services

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyEmbedProvider    = "embedding.provider"
	keyEmbedModel       = "embedding.model"
	keyEmbedBaseURL     = "embedding.base_url"
	keyEmbedAPIKey      = "embedding.api_key"
	keyEmbedDims        = "embedding.dimensions"
	keyEmbedRPS         = "embedding.requests_per_second"
	keyLLMProvider      = "llm.provider"
	keyLLMModel         = "llm.model"
	keyLLMBaseURL       = "llm.base_url"
	keyLLMAPIKey        = "llm.api_key"
	keyLLMTemperature   = "llm.temperature"
	keyLLMMaxTokens     = "llm.max_tokens"
	keyLLMRPS           = "llm.requests_per_second"
	keyChunkSize        = "chunking.target_size"
	keyChunkOverlap     = "chunking.overlap"
	keyChunkTolerance   = "chunking.snap_tolerance"
	keyRetrievalLimit   = "retrieval.limit"
	keyRetrievalThresh  = "retrieval.threshold"
	keyRoutingThreshold = "retrieval.routing_threshold"
	keyRetryAttempts    = "retry.max_attempts"
	keyRetryInitial     = "retry.initial_backoff"
	keyRetryMax         = "retry.max_backoff"
	keyRetryMultiplier  = "retry.multiplier"
	keySessionTimeout   = "session.timeout"
	keySessionHistory   = "session.max_history"
	keySessionSweep     = "session.sweep_interval"
	keyIngestWorkers    = "ingestion.max_concurrent"
	keyIngestTimeout    = "ingestion.timeout"
	keyIngestBatch      = "ingestion.embed_batch_size"
	keyStorageDir       = "storage.data_dir"
	keyStorageDocs      = "storage.documents"
	keyStorageVectors   = "storage.vectors"
	keyStorageSessions  = "storage.sessions"
	keyRedisAddr        = "storage.redis_addr"
	keyRedisDB          = "storage.redis_db"
	keyRulesFile        = "tables.rules"
	keyFormulasFile     = "tables.formulas"
	keyRoutesFile       = "tables.routes"
	keyStreamBuffer     = "stream.buffer"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
	kindDuration
	kindProvider
	kindBackend
)

// setting binds a config key to a field of domain.Config.
type setting struct {
	key    string
	kind   valueKind
	secret bool
	get    func(*domain.Config) any
	set    func(*domain.Config, any)
}

// bind builds a setting from a field accessor.
func bind[T any](key string, kind valueKind, field func(*domain.Config) *T) setting {
	return setting{
		key:  key,
		kind: kind,
		get:  func(c *domain.Config) any { return *field(c) },
		set:  func(c *domain.Config, v any) { *field(c) = v.(T) },
	}
}

func secret(s setting) setting {
	s.secret = true
	return s
}

// settings lists every configurable key in display order.
var settings = []setting{
	bind(keyEmbedProvider, kindProvider, func(c *domain.Config) *domain.AIProvider { return &c.Embedding.Provider }),
	bind(keyEmbedModel, kindString, func(c *domain.Config) *string { return &c.Embedding.Model }),
	bind(keyEmbedBaseURL, kindString, func(c *domain.Config) *string { return &c.Embedding.BaseURL }),
	secret(bind(keyEmbedAPIKey, kindString, func(c *domain.Config) *string { return &c.Embedding.APIKey })),
	bind(keyEmbedDims, kindInt, func(c *domain.Config) *int { return &c.Embedding.Dimensions }),
	bind(keyEmbedRPS, kindFloat, func(c *domain.Config) *float64 { return &c.Embedding.RequestsPerSecond }),
	bind(keyLLMProvider, kindProvider, func(c *domain.Config) *domain.AIProvider { return &c.LLM.Provider }),
	bind(keyLLMModel, kindString, func(c *domain.Config) *string { return &c.LLM.Model }),
	bind(keyLLMBaseURL, kindString, func(c *domain.Config) *string { return &c.LLM.BaseURL }),
	secret(bind(keyLLMAPIKey, kindString, func(c *domain.Config) *string { return &c.LLM.APIKey })),
	bind(keyLLMTemperature, kindFloat, func(c *domain.Config) *float64 { return &c.LLM.Temperature }),
	bind(keyLLMMaxTokens, kindInt, func(c *domain.Config) *int { return &c.LLM.MaxTokens }),
	bind(keyLLMRPS, kindFloat, func(c *domain.Config) *float64 { return &c.LLM.RequestsPerSecond }),
	bind(keyChunkSize, kindInt, func(c *domain.Config) *int { return &c.Chunking.TargetSize }),
	bind(keyChunkOverlap, kindInt, func(c *domain.Config) *int { return &c.Chunking.Overlap }),
	bind(keyChunkTolerance, kindInt, func(c *domain.Config) *int { return &c.Chunking.SnapTolerance }),
	bind(keyRetrievalLimit, kindInt, func(c *domain.Config) *int { return &c.Retrieval.Limit }),
	bind(keyRetrievalThresh, kindFloat, func(c *domain.Config) *float64 { return &c.Retrieval.Threshold }),
	bind(keyRoutingThreshold, kindFloat, func(c *domain.Config) *float64 { return &c.Retrieval.RoutingThreshold }),
	bind(keyRetryAttempts, kindInt, func(c *domain.Config) *int { return &c.Retry.MaxAttempts }),
	bind(keyRetryInitial, kindDuration, func(c *domain.Config) *time.Duration { return &c.Retry.InitialBackoff }),
	bind(keyRetryMax, kindDuration, func(c *domain.Config) *time.Duration { return &c.Retry.MaxBackoff }),
	bind(keyRetryMultiplier, kindFloat, func(c *domain.Config) *float64 { return &c.Retry.Multiplier }),
	bind(keySessionTimeout, kindDuration, func(c *domain.Config) *time.Duration { return &c.Session.Timeout }),
	bind(keySessionHistory, kindInt, func(c *domain.Config) *int { return &c.Session.MaxHistory }),
	bind(keySessionSweep, kindDuration, func(c *domain.Config) *time.Duration { return &c.Session.SweepInterval }),
	bind(keyIngestWorkers, kindInt, func(c *domain.Config) *int { return &c.Ingestion.MaxConcurrent }),
	bind(keyIngestTimeout, kindDuration, func(c *domain.Config) *time.Duration { return &c.Ingestion.Timeout }),
	bind(keyIngestBatch, kindInt, func(c *domain.Config) *int { return &c.Ingestion.EmbedBatchSize }),
	bind(keyStorageDir, kindString, func(c *domain.Config) *string { return &c.Storage.DataDir }),
	bind(keyStorageDocs, kindBackend, func(c *domain.Config) *domain.Backend { return &c.Storage.Documents }),
	bind(keyStorageVectors, kindBackend, func(c *domain.Config) *domain.Backend { return &c.Storage.Vectors }),
	bind(keyStorageSessions, kindBackend, func(c *domain.Config) *domain.Backend { return &c.Storage.Sessions }),
	bind(keyRedisAddr, kindString, func(c *domain.Config) *string { return &c.Storage.RedisAddr }),
	bind(keyRedisDB, kindInt, func(c *domain.Config) *int { return &c.Storage.RedisDB }),
	bind(keyRulesFile, kindString, func(c *domain.Config) *string { return &c.RulesFile }),
	bind(keyFormulasFile, kindString, func(c *domain.Config) *string { return &c.FormulasFile }),
	bind(keyRoutesFile, kindString, func(c *domain.Config) *string { return &c.RoutesFile }),
	bind(keyStreamBuffer, kindInt, func(c *domain.Config) *int { return &c.StreamBuffer }),
}

func lookupSetting(key string) (setting, bool) {
	i := slices.IndexFunc(settings, func(s setting) bool { return s.key == key })
	if i < 0 {
		return setting{}, false
	}
	return settings[i], true
}

// SettingKeys returns every configurable key in display order.
func SettingKeys() []string {
	keys := make([]string, len(settings))
	for i, s := range settings {
		keys[i] = s.key
	}
	return keys
}

// parse converts a stored value to the setting's Go type. Stored values
// may be strings written by "config set" or typed TOML values.
func (s setting) parse(raw any) (any, error) {
	text := strings.TrimSpace(fmt.Sprint(raw))
	switch s.kind {
	case kindString:
		return text, nil
	case kindInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		}
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", s.key, text)
		}
		return n, nil
	case kindFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", s.key, text)
		}
		return f, nil
	case kindDuration:
		d, err := time.ParseDuration(text)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a duration", s.key, text)
		}
		return d, nil
	case kindProvider:
		p := domain.AIProvider(strings.ToLower(text))
		if !p.IsValid() {
			return nil, fmt.Errorf("%s: unknown provider %q", s.key, text)
		}
		return p, nil
	case kindBackend:
		b := domain.Backend(strings.ToLower(text))
		switch b {
		case domain.BackendMemory, domain.BackendSQLite, domain.BackendBolt, domain.BackendRedis:
			return b, nil
		}
		return nil, fmt.Errorf("%s: unknown backend %q", s.key, text)
	}
	return nil, fmt.Errorf("%s: unsupported setting", s.key)
}

// LoadConfig builds a Config from defaults overlaid with stored values.
//
// Choosing a provider without a model picks the provider's default model,
// and the vector size follows the model when not set explicitly. The
// retrieval threshold defaults to the embedder's suggested cutoff.
func LoadConfig(store driven.ConfigStore) (domain.Config, error) {
	if store == nil {
		return loadConfig(func(string) (any, bool) { return nil, false })
	}
	return loadConfig(store.Get)
}

func loadConfig(get func(key string) (any, bool)) (domain.Config, error) {
	cfg := domain.DefaultConfig()
	for _, s := range settings {
		raw, ok := get(s.key)
		if !ok {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
		}
		s.set(&cfg, v)
	}

	has := func(key string) bool {
		_, ok := get(key)
		return ok
	}
	if has(keyEmbedProvider) && !has(keyEmbedModel) {
		cfg.Embedding.Model = domain.DefaultEmbeddingModels()[cfg.Embedding.Provider]
	}
	if d, ok := domain.EmbeddingDimensions()[cfg.Embedding.Model]; ok && !has(keyEmbedDims) {
		cfg.Embedding.Dimensions = d
	}
	if has(keyLLMProvider) && !has(keyLLMModel) {
		cfg.LLM.Model = domain.DefaultLLMModels()[cfg.LLM.Provider]
	}
	if !has(keyRetrievalThresh) {
		cfg.Retrieval.Threshold = cfg.Embedding.SuggestedThreshold()
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv fills API keys and the Redis address from the environment when
// the config leaves them empty.
func ApplyEnv(cfg *domain.Config, getenv func(string) string) {
	first := func(names ...string) string {
		for _, n := range names {
			if v := getenv(n); v != "" {
				return v
			}
		}
		return ""
	}
	envKey := func(p domain.AIProvider) []string {
		switch p {
		case domain.AIProviderOpenAI:
			return []string{"OPENAI_API_KEY"}
		case domain.AIProviderAnthropic:
			return []string{"ANTHROPIC_API_KEY"}
		}
		return nil
	}

	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = first(append([]string{"MIZAN_EMBEDDING_API_KEY"}, envKey(cfg.Embedding.Provider)...)...)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = first(append([]string{"MIZAN_LLM_API_KEY"}, envKey(cfg.LLM.Provider)...)...)
	}
	if cfg.Storage.RedisAddr == "" {
		cfg.Storage.RedisAddr = first("MIZAN_REDIS_ADDR")
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = first("MIZAN_DATA_DIR")
	}
}

// Setting is one effective configuration value.
type Setting struct {
	Key    string
	Value  string
	Stored bool
}

// SettingsService reads and edits the persisted configuration.
type SettingsService struct {
	store driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(store driven.ConfigStore) *SettingsService {
	return &SettingsService{store: store}
}

// Config returns the effective configuration.
func (s *SettingsService) Config() (domain.Config, error) {
	return LoadConfig(s.store)
}

// List returns every setting with its effective value. Secrets are masked.
func (s *SettingsService) List() ([]Setting, error) {
	cfg, err := LoadConfig(s.store)
	if err != nil {
		return nil, err
	}
	out := make([]Setting, 0, len(settings))
	for _, st := range settings {
		_, stored := s.store.Get(st.key)
		value := fmt.Sprint(st.get(&cfg))
		if st.secret && value != "" {
			value = maskSecret(value)
		}
		out = append(out, Setting{Key: st.key, Value: value, Stored: stored})
	}
	return out, nil
}

// Set validates and persists one value. Nothing is stored if the
// resulting configuration would be inconsistent.
func (s *SettingsService) Set(key, value string) error {
	st, ok := lookupSetting(key)
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidConfiguration, key)
	}
	parsed, err := st.parse(value)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}

	next := stored(parsed)
	_, err = loadConfig(func(k string) (any, bool) {
		if k == key {
			return next, true
		}
		return s.store.Get(k)
	})
	if err != nil {
		return err
	}
	if err := s.store.Set(key, next); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Reset removes a stored value so its default applies again. Like Set, it
// refuses to leave the configuration inconsistent.
func (s *SettingsService) Reset(key string) error {
	if _, ok := lookupSetting(key); !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidConfiguration, key)
	}
	_, err := loadConfig(func(k string) (any, bool) {
		if k == key {
			return nil, false
		}
		return s.store.Get(k)
	})
	if err != nil {
		return err
	}
	if err := s.store.Delete(key); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

// SetEmbeddingProvider configures the embedding provider.
func (s *SettingsService) SetEmbeddingProvider(p domain.AIProvider, model, apiKey string) error {
	if !slices.Contains(domain.AllEmbeddingProviders(), p) {
		return fmt.Errorf("%w: provider %s does not support embeddings", domain.ErrInvalidConfiguration, p)
	}
	if model == "" {
		model = domain.DefaultEmbeddingModels()[p]
	}
	if err := s.store.Set(keyEmbedProvider, string(p)); err != nil {
		return fmt.Errorf("save embedding provider: %w", err)
	}
	if err := s.store.Set(keyEmbedModel, model); err != nil {
		return fmt.Errorf("save embedding model: %w", err)
	}
	if d, ok := domain.EmbeddingDimensions()[model]; ok {
		if err := s.store.Set(keyEmbedDims, d); err != nil {
			return fmt.Errorf("save embedding dimensions: %w", err)
		}
	}
	if apiKey != "" {
		if err := s.store.Set(keyEmbedAPIKey, apiKey); err != nil {
			return fmt.Errorf("save embedding api_key: %w", err)
		}
	}
	return nil
}

// SetLLMProvider configures the answer generator.
func (s *SettingsService) SetLLMProvider(p domain.AIProvider, model, apiKey string) error {
	if !slices.Contains(domain.AllLLMProviders(), p) {
		return fmt.Errorf("%w: provider %s cannot generate answers", domain.ErrInvalidConfiguration, p)
	}
	if model == "" {
		model = domain.DefaultLLMModels()[p]
	}
	if err := s.store.Set(keyLLMProvider, string(p)); err != nil {
		return fmt.Errorf("save llm provider: %w", err)
	}
	if err := s.store.Set(keyLLMModel, model); err != nil {
		return fmt.Errorf("save llm model: %w", err)
	}
	if apiKey != "" {
		if err := s.store.Set(keyLLMAPIKey, apiKey); err != nil {
			return fmt.Errorf("save llm api_key: %w", err)
		}
	}
	return nil
}

// stored converts a parsed value to what the TOML store keeps.
func stored(v any) any {
	switch v := v.(type) {
	case time.Duration:
		return v.String()
	case domain.AIProvider:
		return string(v)
	case domain.Backend:
		return string(v)
	default:
		return v
	}
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "…" + s[len(s)-4:]
}
