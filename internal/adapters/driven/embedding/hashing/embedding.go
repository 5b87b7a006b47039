// Package hashing provides an offline embedding service based on feature
// hashing. It needs no model download and no corpus preparation, which makes
// it the default for local use and tests.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultModel      = "hashing-v1"
	DefaultDimensions = 384
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

// EmbeddingService maps unigrams and bigrams into a fixed number of signed
// buckets with sublinear term frequency, then L2 normalises.
type EmbeddingService struct {
	model      string
	dimensions int
	stopwords  map[string]struct{}
}

// NewEmbeddingService creates a hashing embedder. Non-positive dimensions
// fall back to DefaultDimensions.
func NewEmbeddingService(dimensions int) *EmbeddingService {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &EmbeddingService{
		model:      DefaultModel,
		dimensions: dimensions,
		stopwords:  defaultStopwords(),
	}
}

// Embed generates a vector embedding for the given text. Text without any
// tokens yields the zero vector.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.vector(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.vector(text)
	}
	return out, nil
}

func (s *EmbeddingService) vector(text string) []float32 {
	tokens := s.tokenize(text)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+" "+tok]++
		}
	}

	acc := make([]float64, s.dimensions)
	for feature, n := range counts {
		idx, sign := s.bucket(feature)
		weight := 1 + math.Log(float64(n))
		// Bigrams carry phrase information but should not dominate.
		if strings.IndexByte(feature, ' ') >= 0 {
			weight *= 0.5
		}
		acc[idx] += sign * weight
	}

	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, s.dimensions)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (s *EmbeddingService) bucket(feature string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(s.dimensions)), sign
}

func (s *EmbeddingService) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, stop := s.stopwords[tok]; stop {
			continue
		}
		out = append(out, stem(tok))
	}
	return out
}

// stem folds common English plural endings so "sukuk structures" and
// "sukuk structure" share features.
func stem(tok string) string {
	switch {
	case len(tok) > 4 && strings.HasSuffix(tok, "ies"):
		return tok[:len(tok)-3] + "y"
	case len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss"):
		return tok[:len(tok)-1]
	default:
		return tok
	}
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping always succeeds; there is nothing to reach.
func (s *EmbeddingService) Ping(context.Context) error {
	return nil
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	return nil
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on",
		"at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its",
		"this", "that", "these", "those", "from", "into", "about", "than", "so", "such", "can",
		"will", "just", "should", "what", "how", "does", "do", "i", "my", "me", "we", "you", "your",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
