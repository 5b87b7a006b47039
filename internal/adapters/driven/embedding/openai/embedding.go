// Package openai embeds text through the OpenAI embeddings endpoint or any
// API that speaks the same protocol.
package openai

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/mizan/internal/adapters/driven/provider"
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

var _ driven.EmbeddingService = (*EmbeddingService)(nil)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
	DefaultTimeout = 60 * time.Second

	fallbackDimensions = 1536
)

// Config describes how to reach the API. Only APIKey is required.
type Config struct {
	APIKey  string
	BaseURL string // Azure and compatible gateways override this
	Model   string
	Timeout time.Duration

	// Dimensions shortens text-embedding-3 vectors. Other models ignore it.
	Dimensions int

	// RequestsPerSecond throttles requests. Zero disables throttling.
	RequestsPerSecond float64
}

func (c Config) normalised() Config {
	c.BaseURL = strings.TrimSuffix(cmp.Or(c.BaseURL, DefaultBaseURL), "/")
	c.Model = cmp.Or(c.Model, DefaultModel)
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Dimensions == 0 {
		c.Dimensions = fallbackDimensions
		if d, ok := domain.EmbeddingDimensions()[c.Model]; ok {
			c.Dimensions = d
		}
	}
	return c
}

// EmbeddingService is safe for concurrent use.
type EmbeddingService struct {
	cfg    Config
	client *provider.Client
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewEmbeddingService fails with domain.ErrInvalidConfiguration when no key
// is given.
func NewEmbeddingService(cfg Config) (*EmbeddingService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: API key is required", domain.ErrInvalidConfiguration)
	}
	cfg = cfg.normalised()
	return &EmbeddingService{
		cfg:    cfg,
		client: provider.NewClient("openai", domain.ErrEmbeddingProvider, cfg.Timeout, cfg.RequestsPerSecond),
	}, nil
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends all texts in one request. The response may list vectors
// in any order; each lands at the position its index names.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := embeddingRequest{Model: s.cfg.Model, Input: texts}
	if strings.HasPrefix(s.cfg.Model, "text-embedding-3-") {
		req.Dimensions = s.cfg.Dimensions
	}
	resp, err := s.client.PostJSON(ctx, s.cfg.BaseURL+"/embeddings", s.auth(), req)
	if err != nil {
		return nil, err
	}
	var body embeddingResponse
	if err := s.client.DecodeJSON(resp, &body); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for _, d := range body.Data {
		switch {
		case d.Index < 0 || d.Index >= len(texts):
			return nil, s.client.Fail("embedding index %d out of range", d.Index)
		case len(d.Embedding) != s.cfg.Dimensions:
			return nil, s.client.Fail("got %d dimensions, want %d", len(d.Embedding), s.cfg.Dimensions)
		}
		vectors[d.Index] = d.Embedding
	}
	for i := range vectors {
		if vectors[i] == nil {
			return nil, s.client.Fail("no embedding returned for input %d", i)
		}
	}
	return vectors, nil
}

func (s *EmbeddingService) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.cfg.APIKey}
}

func (s *EmbeddingService) Dimensions() int   { return s.cfg.Dimensions }
func (s *EmbeddingService) ModelName() string { return s.cfg.Model }

// Ping lists models, which checks the key without spending tokens.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	return s.client.Get(ctx, s.cfg.BaseURL+"/models", s.auth())
}

func (s *EmbeddingService) Close() error { return nil }
