package driving

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// QueryService answers conversational questions.
type QueryService interface {
	// Stream runs the query pipeline and returns its ordered event stream.
	// The last event is always done or error and the channel is closed
	// after it. Invalid requests fail here without opening a stream.
	Stream(ctx context.Context, req domain.QueryRequest) (<-chan domain.Event, error)

	// Ask runs the pipeline to completion and returns only the final result.
	// Pipeline failures are returned as *domain.PipelineError.
	Ask(ctx context.Context, req domain.QueryRequest) (*domain.OrchestratorResult, error)
}
