package driving

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// DocumentService is the document query surface.
type DocumentService interface {
	// List returns documents, optionally only those of one category.
	List(ctx context.Context, category *domain.Category) ([]domain.Document, error)

	// Get retrieves a document by ID.
	Get(ctx context.Context, documentID string) (*domain.Document, error)

	// GetContent rebuilds the extracted text from the document's chunks.
	GetContent(ctx context.Context, documentID string) (string, error)

	// Delete removes a document, its chunks and its index entries.
	Delete(ctx context.Context, documentID string) error
}
