// Package keyword provides a lexical index over chunk text, used as the
// secondary signal for retrieval re-ranking.
package keyword

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// Index defines lexical indexing and search over chunks.
type Index interface {
	IndexChunk(ctx context.Context, chunk *models.Chunk) error
	DeleteChunk(ctx context.Context, chunkID string) error
	// Search returns up to limit chunk IDs with lexical relevance scores for
	// the query, best first. Scores are index-relative; callers normalize.
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	Close() error
}

// Result is a single lexical hit (ID is a chunk ID).
type Result struct {
	ID    string
	Score float64
}
