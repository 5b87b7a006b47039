package driven

import (
	"iter"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// Chunker splits extracted text into overlapping, size-bounded chunks.
type Chunker interface {
	// Chunks lazily yields the chunks of text in order. The sequence is
	// finite and may be iterated more than once with identical results.
	// Embedding is left nil.
	Chunks(documentID, text string) iter.Seq[domain.Chunk]
}
