// Package bolt provides a vector index persisted in a bbolt file and served
// from memory.
package bolt

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/custodia-labs/mizan/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

var bucketVectors = []byte("vectors")

type storedVector struct {
	Seq        uint64          `json:"s"`
	DocumentID string          `json:"d"`
	Category   domain.Category `json:"c,omitempty"`
	Vector     []float32       `json:"v"`
}

// Index writes every entry through to bbolt and answers searches from an
// in-memory index loaded at open.
type Index struct {
	db  *bbolt.DB
	mem *memory.Index
}

// Open opens or creates the index file at path.
func Open(path string, dims int) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open vector index %s: %w", path, err)
	}
	x, err := New(db, dims)
	if err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

// New wraps an open database. The index owns db and closes it on Close.
func New(db *bbolt.DB, dims int) (*Index, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create vectors bucket: %w", err)
	}

	x := &Index{db: db, mem: memory.New(dims)}
	if err := x.load(); err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	return x, nil
}

type loaded struct {
	id string
	storedVector
}

// load replays stored entries in their original insertion order.
func (x *Index) load() error {
	var all []loaded
	err := x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("decode vector %s: %w", k, err)
			}
			all = append(all, loaded{id: string(k), storedVector: stored})
			return nil
		})
	})
	if err != nil {
		return err
	}

	slices.SortFunc(all, func(a, b loaded) int { return cmp.Compare(a.Seq, b.Seq) })
	ctx := context.Background()
	for _, l := range all {
		e := driven.VectorEntry{ChunkID: l.id, DocumentID: l.DocumentID, Category: l.Category, Vector: l.Vector}
		if err := x.mem.Index(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Index persists the entry, then makes it searchable.
func (x *Index) Index(ctx context.Context, e driven.VectorEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dims := x.mem.Dimensions(); dims != 0 && len(e.Vector) != dims {
		return fmt.Errorf("%w: vector dimension mismatch: expected %d, got %d",
			domain.ErrRetrieval, dims, len(e.Vector))
	}

	err := x.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		key := []byte(e.ChunkID)

		var seq uint64
		if prev := b.Get(key); prev != nil {
			var old storedVector
			if err := json.Unmarshal(prev, &old); err == nil {
				seq = old.Seq
			}
		}
		if seq == 0 {
			var err error
			if seq, err = b.NextSequence(); err != nil {
				return err
			}
		}

		data, err := json.Marshal(storedVector{Seq: seq, DocumentID: e.DocumentID, Category: e.Category, Vector: e.Vector})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("%w: persist vector %s: %w", domain.ErrRetrieval, e.ChunkID, err)
	}
	return x.mem.Index(ctx, e)
}

// Search returns the best matches for vector.
func (x *Index) Search(ctx context.Context, vector []float32, q driven.VectorQuery) ([]driven.VectorHit, error) {
	return x.mem.Search(ctx, vector, q)
}

// Remove deletes every entry of a document from disk and memory.
func (x *Index) Remove(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ids := x.mem.ChunkIDs(documentID)
	if len(ids) == 0 {
		return 0, nil
	}
	err := x.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: remove vectors of %s: %w", domain.ErrRetrieval, documentID, err)
	}
	return x.mem.Remove(ctx, documentID)
}

// Len returns the number of indexed entries.
func (x *Index) Len() int {
	return x.mem.Len()
}

// Close closes the database.
func (x *Index) Close() error {
	return errors.Join(x.mem.Close(), x.db.Close())
}
