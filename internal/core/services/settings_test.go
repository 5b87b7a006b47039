package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mizan/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/mizan/internal/core/domain"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for name, cfg := range map[string]func() (domain.Config, error){
		"nil store":   func() (domain.Config, error) { return LoadConfig(nil) },
		"empty store": func() (domain.Config, error) { return LoadConfig(memory.NewConfigStore()) },
	} {
		t.Run(name, func(t *testing.T) {
			got, err := cfg()
			require.NoError(t, err)
			want := domain.DefaultConfig()
			want.Retrieval.Threshold = domain.HashingSearchThreshold
			assert.Equal(t, want, got)
		})
	}
}

func TestLoadConfig_StoredValues(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"chunking.target_size":     int64(500),
		"chunking.overlap":         "50",
		"retrieval.threshold":      0.5,
		"retrieval.limit":          int64(20),
		"retry.initial_backoff":    "50ms",
		"session.timeout":          "1h",
		"storage.documents":        "Memory",
		"storage.redis_db":         int64(2),
		"llm.temperature":          int64(0),
		"tables.rules":             "/etc/mizan/rules.yaml",
		"ingestion.max_concurrent": 8,
	})

	cfg, err := LoadConfig(store)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Chunking.TargetSize)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.InDelta(t, 0.5, cfg.Retrieval.Threshold, 1e-9)
	assert.Equal(t, 20, cfg.Retrieval.Limit)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, time.Hour, cfg.Session.Timeout)
	assert.Equal(t, domain.BackendMemory, cfg.Storage.Documents)
	assert.Equal(t, 2, cfg.Storage.RedisDB)
	assert.Zero(t, cfg.LLM.Temperature)
	assert.Equal(t, "/etc/mizan/rules.yaml", cfg.RulesFile)
	assert.Equal(t, 8, cfg.Ingestion.MaxConcurrent)
}

func TestLoadConfig_ProviderImpliesModelAndDimensions(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"embedding.provider": "openai",
		"llm.provider":       "anthropic",
	})
	cfg, err := LoadConfig(store)
	require.NoError(t, err)

	assert.Equal(t, domain.AIProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.InDelta(t, domain.DefaultSearchThreshold, cfg.Retrieval.Threshold, 1e-9)
	assert.Equal(t, domain.AIProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, domain.DefaultLLMModels()[domain.AIProviderAnthropic], cfg.LLM.Model)
}

func TestLoadConfig_ExplicitDimensionsWin(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"embedding.provider":   "ollama",
		"embedding.model":      "nomic-embed-text",
		"embedding.dimensions": int64(512),
	})
	cfg, err := LoadConfig(store)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Embedding.Dimensions)
}

func TestLoadConfig_UnknownModelKeepsDimensions(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"embedding.provider": "ollama",
		"embedding.model":    "my-custom-embedder",
	})
	cfg, err := LoadConfig(store)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig().Embedding.Dimensions, cfg.Embedding.Dimensions)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
	}{
		{"not a number", map[string]any{"retrieval.limit": "many"}},
		{"bad duration", map[string]any{"session.timeout": "forever"}},
		{"unknown provider", map[string]any{"embedding.provider": "cohere"}},
		{"unknown backend", map[string]any{"storage.vectors": "postgres"}},
		{"overlap not below size", map[string]any{"chunking.target_size": 100, "chunking.overlap": 100}},
		{"threshold out of range", map[string]any{"retrieval.threshold": 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(memory.NewConfigStore(tt.values))
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":    "sk-openai",
		"ANTHROPIC_API_KEY": "sk-ant",
		"MIZAN_REDIS_ADDR":  "redis:6379",
		"MIZAN_DATA_DIR":    "/var/lib/mizan",
	}
	getenv := func(k string) string { return env[k] }

	cfg := domain.DefaultConfig()
	cfg.Embedding.Provider = domain.AIProviderOpenAI
	cfg.LLM.Provider = domain.AIProviderAnthropic
	ApplyEnv(&cfg, getenv)
	assert.Equal(t, "sk-openai", cfg.Embedding.APIKey)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
	assert.Equal(t, "redis:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, "/var/lib/mizan", cfg.Storage.DataDir)

	env["MIZAN_LLM_API_KEY"] = "sk-mizan"
	cfg = domain.DefaultConfig()
	cfg.LLM.Provider = domain.AIProviderAnthropic
	cfg.Storage.RedisAddr = "localhost:6379"
	ApplyEnv(&cfg, getenv)
	assert.Equal(t, "sk-mizan", cfg.LLM.APIKey, "mizan variable takes precedence")
	assert.Empty(t, cfg.Embedding.APIKey, "hashing has no provider variable")
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr, "configured values are kept")
}

func TestSettingsService_Set(t *testing.T) {
	store := memory.NewConfigStore()
	svc := NewSettingsService(store)

	require.NoError(t, svc.Set("retrieval.limit", "25"))
	require.NoError(t, svc.Set("session.timeout", "45m"))
	require.NoError(t, svc.Set("storage.redis_addr", "localhost:6379"))
	require.NoError(t, svc.Set("storage.sessions", "redis"))

	v, ok := store.Get("retrieval.limit")
	require.True(t, ok)
	assert.Equal(t, 25, v)
	v, _ = store.Get("session.timeout")
	assert.Equal(t, "45m0s", v)
	v, _ = store.Get("storage.sessions")
	assert.Equal(t, "redis", v)

	cfg, err := svc.Config()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Retrieval.Limit)
	assert.Equal(t, 45*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, domain.BackendRedis, cfg.Storage.Sessions)
}

func TestSettingsService_SetRejectsInvalid(t *testing.T) {
	store := memory.NewConfigStore()
	svc := NewSettingsService(store)

	tests := []struct {
		name, key, value string
	}{
		{"unknown key", "retrieval.magic", "1"},
		{"bad int", "retrieval.limit", "ten"},
		{"inconsistent overlap", "chunking.overlap", "5000"},
		{"limit out of range", "retrieval.limit", "1000"},
		{"unknown provider", "llm.provider", "gemini"},
		{"redis without address", "storage.sessions", "redis"},
		{"vectors in sqlite", "storage.vectors", "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Set(tt.key, tt.value), domain.ErrInvalidConfiguration)
		})
	}
	assert.Empty(t, store.Keys(), "nothing is stored after a rejected set")
}

func TestSettingsService_Reset(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{"retrieval.limit": 5})
	svc := NewSettingsService(store)

	require.NoError(t, svc.Reset("retrieval.limit"))
	require.NoError(t, svc.Reset("retrieval.threshold"), "resetting a default is a no-op")

	cfg, err := svc.Config()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig().Retrieval.Limit, cfg.Retrieval.Limit)
	assert.Empty(t, store.Keys())

	assert.ErrorIs(t, svc.Reset("retrieval.magic"), domain.ErrInvalidConfiguration)
}

func TestSettingsService_ResetRefusesInconsistentResult(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"storage.sessions":   "redis",
		"storage.redis_addr": "localhost:6379",
	})
	svc := NewSettingsService(store)

	err := svc.Reset("storage.redis_addr")

	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, ok := store.Get("storage.redis_addr")
	assert.True(t, ok)
}

func TestSettingsService_List(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"llm.provider": "openai",
		"llm.api_key":  "sk-proj-1234567890abcd",
	})
	svc := NewSettingsService(store)

	list, err := svc.List()
	require.NoError(t, err)
	require.Len(t, list, len(SettingKeys()))

	byKey := make(map[string]Setting, len(list))
	for _, s := range list {
		byKey[s.Key] = s
	}
	assert.Equal(t, "sk-p…abcd", byKey["llm.api_key"].Value)
	assert.True(t, byKey["llm.api_key"].Stored)
	assert.Equal(t, "gpt-4o-mini", byKey["llm.model"].Value)
	assert.False(t, byKey["llm.model"].Stored)
	assert.Equal(t, "1000", byKey["chunking.target_size"].Value)
	assert.Empty(t, byKey["embedding.api_key"].Value)
	assert.Equal(t, "embedding.provider", list[0].Key)
}

func TestSettingsService_SetProviders(t *testing.T) {
	store := memory.NewConfigStore()
	svc := NewSettingsService(store)

	require.NoError(t, svc.SetEmbeddingProvider(domain.AIProviderOllama, "", ""))
	require.NoError(t, svc.SetLLMProvider(domain.AIProviderOpenAI, "gpt-4o", "sk-test"))

	cfg, err := svc.Config()
	require.NoError(t, err)
	assert.Equal(t, domain.AIProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, domain.AIProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)

	assert.ErrorIs(t, svc.SetEmbeddingProvider(domain.AIProviderAnthropic, "", ""), domain.ErrInvalidConfiguration)
	assert.ErrorIs(t, svc.SetLLMProvider(domain.AIProviderHashing, "", ""), domain.ErrInvalidConfiguration)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "****", maskSecret("12345678"))
	assert.Equal(t, "1234…6789", maskSecret("123456789"))
}
