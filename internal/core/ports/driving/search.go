package driving

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// SearchService provides similarity search over indexed chunks.
type SearchService interface {
	// Search returns ranked chunk matches. Malformed requests fail with
	// domain.ValidationErrors before anything else runs.
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchMatch, error)
}
