package driving

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// IngestionService accepts documents for asynchronous indexing.
type IngestionService interface {
	// Ingest records the document as processing and schedules it.
	// It returns before extraction starts.
	Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestAck, error)

	// Wait blocks until every scheduled ingestion has finished or ctx ends.
	Wait(ctx context.Context) error

	// Close stops accepting work and cancels in-flight ingestions.
	Close() error
}
