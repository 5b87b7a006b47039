package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

func TestNewEmbeddingService_RequiresAPIKey(t *testing.T) {
	_, err := NewEmbeddingService(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestNewEmbeddingService_Defaults(t *testing.T) {
	s, err := NewEmbeddingService(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, s.ModelName())
	assert.Equal(t, 1536, s.Dimensions())
	assert.NoError(t, s.Close())

	s, err = NewEmbeddingService(Config{APIKey: "k", Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, 3072, s.Dimensions())
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"first", "second"}, req.Input)
		assert.Equal(t, 2, req.Dimensions)

		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`))
	}))
	defer server.Close()

	s, err := NewEmbeddingService(Config{APIKey: "test-key", BaseURL: server.URL, Dimensions: 2})
	require.NoError(t, err)

	out, err := s.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2,3]}]}`))
	}))
	defer server.Close()

	s, err := NewEmbeddingService(Config{APIKey: "k", BaseURL: server.URL, Dimensions: 2})
	require.NoError(t, err)

	_, err = s.Embed(context.Background(), "riba")
	assert.ErrorIs(t, err, domain.ErrEmbeddingProvider)
	assert.NotErrorIs(t, err, domain.ErrTransient)
}

func TestEmbed_RateLimitedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	s, err := NewEmbeddingService(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = s.Embed(context.Background(), "riba")
	assert.ErrorIs(t, err, domain.ErrEmbeddingProvider)
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestEmbedBatch_Empty(t *testing.T) {
	s, err := NewEmbeddingService(Config{APIKey: "k"})
	require.NoError(t, err)
	out, err := s.EmbedBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	good, _ := NewEmbeddingService(Config{APIKey: "good", BaseURL: server.URL})
	assert.NoError(t, good.Ping(context.Background()))

	bad, _ := NewEmbeddingService(Config{APIKey: "bad", BaseURL: server.URL})
	assert.ErrorIs(t, bad.Ping(context.Background()), domain.ErrEmbeddingProvider)
}
