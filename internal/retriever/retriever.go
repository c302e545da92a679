// Package retriever turns a natural-language query into a ranked list of
// chunk hits from the vector index, optionally re-ranked with a lexical
// signal.
package retriever

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// Hit is a ranked retrieval candidate. Rank is 1-based.
type Hit struct {
	ChunkID string
	Score   float64
	Rank    int
}

// Retriever embeds queries and searches the vector index.
type Retriever struct {
	embedder embedding.Embedder
	index    *vector.Index
	keyword  keyword.Index
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// WithKeywordIndex enables lexical re-ranking over the vector candidates.
func WithKeywordIndex(ki keyword.Index) Option {
	return func(r *Retriever) { r.keyword = ki }
}

// New creates a retriever over the given embedder and vector index.
func New(embedder embedding.Embedder, index *vector.Index, cfg config.RetrievalConfig, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// scopeFetchFactor widens the index fetch for document-scoped queries, which
// post-filter the candidate list.
const scopeFetchFactor = 4

// Retrieve validates the request, embeds the query, and returns up to
// MaxResults hits above the similarity threshold, best first. Validation
// failures surface before any provider call. An empty index yields an empty
// result, not an error. The configured default threshold is written back into
// the request, as Validate does for max_results, so callers observe the
// values actually used.
func (r *Retriever) Retrieve(ctx context.Context, req *models.QueryRequest) ([]Hit, error) {
	if err := req.Validate(r.cfg.DefaultLimit, r.cfg.MaxLimit); err != nil {
		return nil, err
	}
	if req.SimilarityThreshold == 0 {
		req.SimilarityThreshold = r.cfg.Threshold
	}
	threshold := req.SimilarityThreshold

	if r.index.Size() == 0 {
		return nil, nil
	}

	queryVec, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var scope map[string]bool
	if len(req.DocumentIDs) > 0 {
		scope = make(map[string]bool, len(req.DocumentIDs))
		for _, id := range req.DocumentIDs {
			scope[id] = true
		}
	}

	// Over-fetch when re-ranking so the lexical signal can promote
	// candidates from beyond the final cutoff.
	k := req.MaxResults
	if r.rerankEnabled() {
		k = req.MaxResults * r.cfg.RerankFactor
	}
	if scope != nil {
		// Chunks from other documents occupy top-k slots until the scope
		// filter drops them, so fetch extra to keep MaxResults reachable.
		k *= scopeFetchFactor
	}

	candidates, err := r.index.Search(queryVec, k, threshold)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	if scope != nil {
		kept := candidates[:0]
		for _, c := range candidates {
			if scope[models.ChunkDocumentID(c.ID)] {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	if r.rerankEnabled() && len(candidates) > 1 {
		candidates = r.rerank(ctx, req.Query, candidates)
	}
	if len(candidates) > req.MaxResults {
		candidates = candidates[:req.MaxResults]
	}

	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		hits[i] = Hit{ChunkID: c.ID, Score: c.Score, Rank: i + 1}
	}

	r.logger.Debug("retrieval complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(hits)),
		zap.Float64("threshold", threshold))
	return hits, nil
}

func (r *Retriever) rerankEnabled() bool {
	return r.cfg.RerankEnabled && r.keyword != nil
}
