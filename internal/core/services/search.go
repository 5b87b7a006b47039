package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/core/ports/driving"
	"github.com/custodia-labs/mizan/internal/logger"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// SearchService ranks indexed chunks by similarity to a query.
type SearchService struct {
	docStore         driven.DocumentStore
	vectorIndex      driven.VectorIndex
	embeddingService driven.EmbeddingService
	retrieval        domain.RetrievalSettings
	retry            domain.RetrySettings
}

// NewSearchService creates a new search service.
func NewSearchService(
	docStore driven.DocumentStore,
	vectorIndex driven.VectorIndex,
	embeddingService driven.EmbeddingService,
	retrieval domain.RetrievalSettings,
	retry domain.RetrySettings,
) *SearchService {
	return &SearchService{
		docStore:         docStore,
		vectorIndex:      vectorIndex,
		embeddingService: embeddingService,
		retrieval:        retrieval,
		retry:            retry,
	}
}

// Search validates req and returns matches, best first.
func (s *SearchService) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchMatch, error) {
	logger.Section("Search Execution")
	logger.Debug("Query: %q", req.Query)

	if req.Threshold == nil {
		t := s.retrieval.Threshold
		req.Threshold = &t
	}
	if req.Limit == nil && s.retrieval.Limit > 0 {
		n := s.retrieval.Limit
		req.Limit = &n
	}
	req = req.Normalised()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	matches, err := s.retrieve(ctx, req.Query, driven.VectorQuery{
		Limit:     req.SearchLimit(),
		Threshold: *req.Threshold,
		Filters:   req.Filters,
	})
	if err != nil {
		logger.Warn("Search failed: %v", err)
		return nil, err
	}
	logger.Info("Final results: %d", len(matches))
	return matches, nil
}

// retrieve embeds query, searches the index and hydrates the hits.
func (s *SearchService) retrieve(ctx context.Context, query string, q driven.VectorQuery) ([]domain.SearchMatch, error) {
	var vector []float32
	err := Retry(ctx, s.retry, func(attempt int) error {
		v, err := s.embeddingService.Embed(ctx, query)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.vectorIndex.Search(ctx, vector, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	logger.Debug("Vector hits: %d (limit %d, threshold %.2f, filters %+v)", len(hits), q.Limit, q.Threshold, q.Filters)

	return s.hydrate(ctx, hits)
}

// hydrate turns index hits into matches. Hits whose chunk or document has
// gone since indexing are dropped.
func (s *SearchService) hydrate(ctx context.Context, hits []driven.VectorHit) ([]domain.SearchMatch, error) {
	docs := make(map[string]*domain.Document)
	matches := make([]domain.SearchMatch, 0, len(hits))

	for _, hit := range hits {
		chunk, err := s.docStore.GetChunk(ctx, hit.ChunkID)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug("Skipping stale hit %s", hit.ChunkID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hydrate chunk %s: %w", hit.ChunkID, err)
		}

		doc, ok := docs[chunk.DocumentID]
		if !ok {
			doc, err = s.docStore.GetDocument(ctx, chunk.DocumentID)
			if errors.Is(err, domain.ErrNotFound) {
				doc = nil
			} else if err != nil {
				return nil, fmt.Errorf("hydrate document %s: %w", chunk.DocumentID, err)
			}
			docs[chunk.DocumentID] = doc
		}
		if doc == nil {
			continue
		}

		matches = append(matches, domain.SearchMatch{
			ChunkID:       chunk.ID,
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			Category:      doc.Category,
			Position:      chunk.Position,
			Content:       chunk.Content,
			Score:         hit.Similarity,
		})
	}
	return matches, nil
}
