package driven

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// VectorIndex stores chunk vectors and performs similarity search.
//
// Implementations must allow searches to run while entries are being
// written, and a vector only becomes visible once completely written.
type VectorIndex interface {
	// Index adds an entry, replacing any entry with the same chunk ID.
	Index(ctx context.Context, entry VectorEntry) error

	// Search returns entries with score >= query.Threshold that satisfy
	// query.Filters, highest score first, at most query.Limit of them.
	// Equal scores keep insertion order, then chunk ID order.
	Search(ctx context.Context, vector []float32, query VectorQuery) ([]VectorHit, error)

	// Remove evicts every entry of a document and returns how many went.
	Remove(ctx context.Context, documentID string) (int, error)

	// Len returns the number of indexed entries.
	Len() int

	// Close releases resources.
	Close() error
}

// VectorEntry is one indexed chunk vector and its filterable metadata.
type VectorEntry struct {
	ChunkID    string
	DocumentID string
	Category   domain.Category
	Vector     []float32
}

// VectorQuery bounds and filters a similarity search.
type VectorQuery struct {
	Limit     int
	Threshold float64
	Filters   domain.SearchFilters
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// DocumentID is the chunk's owning document.
	DocumentID string

	// Similarity is the cosine similarity clamped to [0, 1].
	Similarity float64
}
