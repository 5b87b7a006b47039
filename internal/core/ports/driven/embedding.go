package driven

import "context"

// EmbeddingService maps text to vectors of a fixed size.
//
// The same input under the same model must always give the same vector.
// Failures wrap domain.ErrEmbeddingProvider, plus domain.ErrTransient when
// trying again could help.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every vector returned.
	Dimensions() int
	ModelName() string

	// Ping checks the provider is reachable without embedding anything
	// where the API allows it.
	Ping(ctx context.Context) error
	Close() error
}
