// Package chunker splits extracted text into overlapping, size-bounded
// chunks whose boundaries prefer natural paragraph and sentence breaks.
package chunker

import (
	"fmt"
	"iter"
	"strconv"

	"github.com/google/uuid"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure Chunker implements the interface.
var _ driven.Chunker = (*Chunker)(nil)

// DefaultTargetSize is the default number of characters per chunk.
const DefaultTargetSize = 1000

// DefaultOverlap is the default number of characters shared by neighbours.
const DefaultOverlap = 200

// Chunker slides a window of targetSize characters over text, advancing by
// targetSize-overlap and pulling each window end back to a natural break
// when one lies within the snap tolerance.
type Chunker struct {
	targetSize int
	overlap    int
	tolerance  int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithTargetSize sets the maximum chunk size in characters.
func WithTargetSize(size int) Option {
	return func(c *Chunker) {
		c.targetSize = size
	}
}

// WithOverlap sets the overlap between neighbouring chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// WithSnapTolerance sets how far back a window end may move to reach a break.
// Zero disables snapping.
func WithSnapTolerance(tolerance int) Option {
	return func(c *Chunker) {
		c.tolerance = tolerance
	}
}

// New creates a chunker. It fails with domain.ErrInvalidConfiguration
// unless 0 <= overlap < targetSize.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		targetSize: DefaultTargetSize,
		overlap:    DefaultOverlap,
		tolerance:  -1,
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case c.targetSize <= 0:
		return nil, fmt.Errorf("%w: target size %d must be positive", domain.ErrInvalidConfiguration, c.targetSize)
	case c.overlap < 0:
		return nil, fmt.Errorf("%w: overlap %d must not be negative", domain.ErrInvalidConfiguration, c.overlap)
	case c.overlap >= c.targetSize:
		return nil, fmt.Errorf("%w: overlap %d must be smaller than target size %d",
			domain.ErrInvalidConfiguration, c.overlap, c.targetSize)
	}
	if c.tolerance < 0 {
		c.tolerance = c.targetSize / 5
	}
	return c, nil
}

// TargetSize returns the configured window size.
func (c *Chunker) TargetSize() int { return c.targetSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the lazy segment sequence of text.
func (c *Chunker) Split(text string) *Sequence {
	return &Sequence{text: []rune(text), cfg: *c}
}

// Chunks yields the chunks of text for documentID. Chunk IDs derive from
// the document ID and position, so iterating twice yields identical chunks.
func (c *Chunker) Chunks(documentID, text string) iter.Seq[domain.Chunk] {
	seq := c.Split(text)
	return func(yield func(domain.Chunk) bool) {
		for seg := range seq.All() {
			chunk := domain.Chunk{
				ID:         ChunkID(documentID, seg.Index),
				DocumentID: documentID,
				Position:   seg.Index,
				Content:    seg.Text,
				Span:       domain.Span{Start: seg.Start, End: seg.End},
				Overlap:    seg.Overlap,
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

// ChunkID returns the stable ID of the chunk at position in documentID.
func ChunkID(documentID string, position int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mizan:chunk:"+documentID+"#"+strconv.Itoa(position))).String()
}
