// Package ollama embeds text with a model served by a local Ollama daemon.
package ollama

import (
	"context"
	"strings"
	"time"

	"github.com/custodia-labs/mizan/internal/adapters/driven/provider"
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

var _ driven.EmbeddingService = (*EmbeddingService)(nil)

const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 30 * time.Second
	DefaultDimensions = 768
)

// Config describes the daemon and model. The zero value talks to
// nomic-embed-text on localhost.
type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Dimensions int // looked up from the model when zero

	// RequestsPerSecond throttles requests. Zero disables throttling.
	RequestsPerSecond float64
}

// EmbeddingService is safe for concurrent use.
type EmbeddingService struct {
	client   *provider.Client
	endpoint string
	tags     string
	model    string
	dims     int
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func NewEmbeddingService(cfg Config) *EmbeddingService {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = DefaultDimensions
		if d, ok := domain.EmbeddingDimensions()[model]; ok {
			dims = d
		}
	}

	return &EmbeddingService{
		client:   provider.NewClient("ollama", domain.ErrEmbeddingProvider, timeout, cfg.RequestsPerSecond),
		endpoint: base + "/api/embed",
		tags:     base + "/api/tags",
		model:    model,
		dims:     dims,
	}
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends all texts in one /api/embed call. Ollama answers in
// input order.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := s.client.PostJSON(ctx, s.endpoint, nil, embedRequest{Model: s.model, Input: texts})
	if err != nil {
		return nil, err
	}
	var body embedResponse
	if err := s.client.DecodeJSON(resp, &body); err != nil {
		return nil, err
	}

	if n := len(body.Embeddings); n != len(texts) {
		return nil, s.client.Fail("got %d embeddings for %d inputs", n, len(texts))
	}
	for _, v := range body.Embeddings {
		if len(v) != s.dims {
			return nil, s.client.Fail("got %d dimensions, want %d", len(v), s.dims)
		}
	}
	return body.Embeddings, nil
}

func (s *EmbeddingService) Dimensions() int   { return s.dims }
func (s *EmbeddingService) ModelName() string { return s.model }

// Ping lists local models; it does not load one.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	return s.client.Get(ctx, s.tags, nil)
}

func (s *EmbeddingService) Close() error { return nil }
