// Package memory provides an in-memory brute-force vector index.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// cancelCheckEvery is how many entries Search scores between context checks.
const cancelCheckEvery = 1024

type entry struct {
	driven.VectorEntry
	norm float64
	seq  uint64
}

// Index is a thread-safe cosine similarity index. Searches share a read
// lock; writes copy the vector before taking the write lock, so a reader
// sees either the old entry or the complete new one.
type Index struct {
	mu      sync.RWMutex
	dims    int
	seq     uint64
	entries map[string]*entry
}

// New creates an index for vectors of the given dimension. Zero dims takes
// the dimension of the first indexed vector.
func New(dims int) *Index {
	return &Index{
		dims:    dims,
		entries: make(map[string]*entry),
	}
}

// Dimensions returns the vector size, or 0 if not yet known.
func (x *Index) Dimensions() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dims
}

// Index adds an entry, replacing any entry with the same chunk ID. A
// replaced entry keeps its original insertion position.
func (x *Index) Index(ctx context.Context, e driven.VectorEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ChunkID == "" {
		return fmt.Errorf("%w: vector entry needs a chunk id", domain.ErrRetrieval)
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for chunk %s", domain.ErrRetrieval, e.ChunkID)
	}

	stored := &entry{VectorEntry: e, norm: norm(e.Vector)}
	stored.Vector = slices.Clone(e.Vector)

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dims == 0 {
		x.dims = len(e.Vector)
	}
	if len(e.Vector) != x.dims {
		return fmt.Errorf("%w: vector dimension mismatch: expected %d, got %d",
			domain.ErrRetrieval, x.dims, len(e.Vector))
	}
	if old, ok := x.entries[e.ChunkID]; ok {
		stored.seq = old.seq
	} else {
		x.seq++
		stored.seq = x.seq
	}
	x.entries[e.ChunkID] = stored
	return nil
}

type scored struct {
	*entry
	score float64
}

// Search returns the best matches for vector.
func (x *Index) Search(ctx context.Context, vector []float32, q driven.VectorQuery) ([]driven.VectorHit, error) {
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: search limit must be positive", domain.ErrRetrieval)
	}
	qnorm := norm(vector)

	x.mu.RLock()
	if x.dims != 0 && len(vector) != x.dims {
		x.mu.RUnlock()
		return nil, fmt.Errorf("%w: query dimension mismatch: expected %d, got %d",
			domain.ErrRetrieval, x.dims, len(vector))
	}
	matches := make([]scored, 0, min(len(x.entries), q.Limit*4))
	i := 0
	for _, e := range x.entries {
		if i++; i%cancelCheckEvery == 0 && ctx.Err() != nil {
			x.mu.RUnlock()
			return nil, ctx.Err()
		}
		if !matchesFilters(e, q.Filters) {
			continue
		}
		score := Similarity(vector, qnorm, e.Vector, e.norm)
		if score < q.Threshold {
			continue
		}
		matches = append(matches, scored{entry: e, score: score})
	}
	x.mu.RUnlock()

	slices.SortFunc(matches, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.seq, b.seq); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	hits := make([]driven.VectorHit, len(matches))
	for i, m := range matches {
		hits[i] = driven.VectorHit{ChunkID: m.ChunkID, DocumentID: m.DocumentID, Similarity: m.score}
	}
	return hits, nil
}

func matchesFilters(e *entry, f domain.SearchFilters) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.DocumentID != "" && e.DocumentID != f.DocumentID {
		return false
	}
	return true
}

// Remove evicts every entry of a document.
func (x *Index) Remove(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for id, e := range x.entries {
		if e.DocumentID == documentID {
			delete(x.entries, id)
			n++
		}
	}
	return n, nil
}

// ChunkIDs returns the chunk IDs indexed for a document.
func (x *Index) ChunkIDs(documentID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var ids []string
	for id, e := range x.entries {
		if e.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of indexed entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Close releases resources.
func (x *Index) Close() error {
	return nil
}

// Similarity is the cosine similarity of a and b clamped to [0, 1], given
// their precomputed norms. Opposed and orthogonal vectors both score 0, as
// does any zero vector.
func Similarity(a []float32, anorm float64, b []float32, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return min(1, max(0, dot/(anorm*bnorm)))
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
