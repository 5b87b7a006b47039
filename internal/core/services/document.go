package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/core/ports/driving"
	"github.com/custodia-labs/mizan/internal/logger"
	"github.com/custodia-labs/mizan/internal/metrics"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService manages ingested documents.
type DocumentService struct {
	docStore    driven.DocumentStore
	vectorIndex driven.VectorIndex
	metrics     *metrics.Metrics
}

// NewDocumentService creates a new document service. mx may be nil.
func NewDocumentService(docStore driven.DocumentStore, vectorIndex driven.VectorIndex, mx *metrics.Metrics) *DocumentService {
	return &DocumentService{
		docStore:    docStore,
		vectorIndex: vectorIndex,
		metrics:     mx,
	}
}

// List returns documents, newest first.
func (s *DocumentService) List(ctx context.Context, category *domain.Category) ([]domain.Document, error) {
	if category != nil && !category.IsValid() {
		var errs domain.ValidationErrors
		errs.Add("category", "unknown category %q", *category)
		return nil, errs
	}
	return s.docStore.ListDocuments(ctx, category)
}

// Get retrieves a document by ID.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	return s.docStore.GetDocument(ctx, documentID)
}

// GetContent rebuilds the extracted text by joining the part of each chunk
// not shared with its predecessor.
func (s *DocumentService) GetContent(ctx context.Context, documentID string) (string, error) {
	// Verify document exists
	if _, err := s.docStore.GetDocument(ctx, documentID); err != nil {
		return "", err
	}

	chunks, err := s.docStore.GetChunks(ctx, documentID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := range chunks {
		b.WriteString(chunks[i].Fresh())
	}
	return b.String(), nil
}

// Delete removes a document's index entries first so searches never
// return chunks that are about to vanish.
func (s *DocumentService) Delete(ctx context.Context, documentID string) error {
	if _, err := s.docStore.GetDocument(ctx, documentID); err != nil {
		return err
	}

	removed, err := s.vectorIndex.Remove(ctx, documentID)
	if err != nil {
		return fmt.Errorf("remove index entries: %w", err)
	}
	if err := s.docStore.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.metrics.SetIndexSize(s.vectorIndex.Len())
	logger.Info("Deleted document %s (%d index entries)", documentID, removed)
	return nil
}
