package driven

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// DocumentStore persists documents and chunks.
// Backed by SQLite or memory.
type DocumentStore interface {
	// SaveDocument stores or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// UpdateStatus records doc's status, reason, chunk count and update time,
	// but only while the stored document is still in status from. It
	// returns domain.ErrNotFound when the document is gone or has moved on.
	UpdateStatus(ctx context.Context, doc *domain.Document, from domain.DocumentStatus) error

	// GetDocument retrieves a document by ID.
	// Returns domain.ErrNotFound if absent.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns documents, newest first, optionally of one category.
	ListDocuments(ctx context.Context, category *domain.Category) ([]domain.Document, error)

	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// SaveChunks stores chunks for a document.
	// Returns domain.ErrNotFound if the owning document is absent.
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error

	// GetChunks retrieves all chunks for a document ordered by position.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// GetChunk retrieves a specific chunk by ID.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// DeleteChunks removes every chunk of a document, keeping the document.
	DeleteChunks(ctx context.Context, documentID string) error
}
