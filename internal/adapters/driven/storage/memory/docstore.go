package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
// Values are copied on the way in and out so callers never share state
// with the store.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	chunks    map[string][]domain.Chunk
	chunkDoc  map[string]string // chunk ID -> document ID
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]domain.Document),
		chunks:    make(map[string][]domain.Chunk),
		chunkDoc:  make(map[string]string),
	}
}

// SaveDocument stores or updates a document.
func (s *DocumentStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = *doc
	return nil
}

// UpdateStatus changes the status fields of a document still in from.
func (s *DocumentStore) UpdateStatus(_ context.Context, doc *domain.Document, from domain.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.documents[doc.ID]
	if !ok || cur.Status != from {
		return fmt.Errorf("document %s in status %s: %w", doc.ID, from, domain.ErrNotFound)
	}
	cur.Status = doc.Status
	cur.StatusReason = doc.StatusReason
	cur.ChunkCount = doc.ChunkCount
	cur.UpdatedAt = doc.UpdatedAt
	s.documents[doc.ID] = cur
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return &doc, nil
}

// ListDocuments returns documents newest first, optionally of one category.
func (s *DocumentStore) ListDocuments(_ context.Context, category *domain.Category) ([]domain.Document, error) {
	s.mu.RLock()
	result := make([]domain.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if category == nil || doc.Category == *category {
			result = append(result, doc)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

// DeleteDocument removes a document and its chunks.
func (s *DocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	delete(s.documents, id)
	s.dropChunks(id)
	return nil
}

// SaveChunks stores chunks, replacing the earlier chunks of every document
// they belong to.
func (s *DocumentStore) SaveChunks(_ context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	byDoc := make(map[string][]domain.Chunk)
	for _, c := range chunks {
		c.Embedding = nil
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for docID := range byDoc {
		if _, ok := s.documents[docID]; !ok {
			return fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
		}
	}
	for docID, docChunks := range byDoc {
		s.dropChunks(docID)
		slices.SortFunc(docChunks, func(a, b domain.Chunk) int { return cmp.Compare(a.Position, b.Position) })
		s.chunks[docID] = docChunks
		for _, c := range docChunks {
			s.chunkDoc[c.ID] = docID
		}
	}
	return nil
}

// GetChunks retrieves all chunks for a document ordered by position.
func (s *DocumentStore) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks[documentID]), nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *DocumentStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chunks[s.chunkDoc[id]] {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
}

// DeleteChunks removes every chunk of a document.
func (s *DocumentStore) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropChunks(documentID)
	return nil
}

// dropChunks requires s.mu held for writing.
func (s *DocumentStore) dropChunks(documentID string) {
	for _, c := range s.chunks[documentID] {
		delete(s.chunkDoc, c.ID)
	}
	delete(s.chunks, documentID)
}
