// Package vector provides an in-memory vector index with exhaustive cosine
// search and binary persistence.
package vector

import (
	"fmt"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Result is a single search hit: a chunk ID with its cosine similarity.
type Result struct {
	ID    string
	Score float64
}

type record struct {
	id  string
	vec []float32 // L2-normalized at insert
	seq uint64    // insertion sequence; breaks score ties deterministically
}

// Index stores normalized vectors keyed by chunk ID. Search is an exhaustive
// scan with a bounded top-k heap: O(n log k) per query. Mutation takes the
// write lock; searches share the read lock, so ingestion and querying can run
// concurrently.
type Index struct {
	dimensions int
	records    []record
	byID       map[string]int
	nextSeq    uint64
	mu         sync.RWMutex
}

// NewIndex creates an index with the given fixed dimension.
func NewIndex(dimensions int) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", models.ErrConfiguration, dimensions)
	}
	return &Index{
		dimensions: dimensions,
		byID:       make(map[string]int),
	}, nil
}

// Upsert inserts or overwrites the vector for id. The vector is copied and
// L2-normalized once here so searches are pure dot products. A dimension
// mismatch is a hard error; the vector is never truncated or padded.
// Re-inserting an existing id keeps its original insertion order, so repeated
// upserts leave search results unchanged.
func (ix *Index) Upsert(id string, vec []float32) error {
	if len(vec) != ix.dimensions {
		return fmt.Errorf("%w: vector dimension %d, index expects %d", models.ErrConfiguration, len(vec), ix.dimensions)
	}
	normalized := make([]float32, ix.dimensions)
	copy(normalized, vec)
	utils.NormalizeL2(normalized)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if pos, ok := ix.byID[id]; ok {
		ix.records[pos].vec = normalized
		return nil
	}
	ix.records = append(ix.records, record{id: id, vec: normalized, seq: ix.nextSeq})
	ix.byID[id] = len(ix.records) - 1
	ix.nextSeq++
	return nil
}

// Remove deletes the vector for id. Removing an absent id is a no-op.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	pos, ok := ix.byID[id]
	if !ok {
		return
	}
	ix.records = append(ix.records[:pos], ix.records[pos+1:]...)
	delete(ix.byID, id)
	for i := pos; i < len(ix.records); i++ {
		ix.byID[ix.records[i].id] = i
	}
}

// Search returns up to k results with score >= threshold, best first. Ties
// are broken by insertion order so identical queries against an unchanged
// index always return the same ranking. An empty index returns no results
// and no error.
func (ix *Index) Search(query []float32, k int, threshold float64) ([]Result, error) {
	if len(query) != ix.dimensions {
		return nil, fmt.Errorf("%w: query dimension %d, index expects %d", models.ErrConfiguration, len(query), ix.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	q := make([]float32, ix.dimensions)
	copy(q, query)
	utils.NormalizeL2(q)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	h := newTopK(k)
	for i := range ix.records {
		r := &ix.records[i]
		var dot float64
		for j := 0; j < ix.dimensions; j++ {
			dot += float64(q[j] * r.vec[j])
		}
		if dot < threshold {
			continue
		}
		h.offer(scored{id: r.id, score: dot, seq: r.seq})
	}
	return h.results(), nil
}

// Has reports whether id is indexed.
func (ix *Index) Has(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byID[id]
	return ok
}

// IDs returns all indexed chunk IDs in insertion order.
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, len(ix.records))
	for i, r := range ix.records {
		ids[i] = r.id
	}
	return ids
}

// Dimensions returns the fixed vector dimension.
func (ix *Index) Dimensions() int {
	return ix.dimensions
}

// Size returns the number of stored vectors.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}
