// Package engine orchestrates ingestion and querying across the chunker,
// embedder, vector index, keyword index, and document store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retriever"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/synthesis"
	"github.com/hyperjump/kotae/internal/vector"
)

// Engine is the core retrieval engine: the single entry point the transport
// layer calls for ingestion, querying, and removal.
type Engine struct {
	store       storage.Store
	chunker     *chunker.Chunker
	embedder    embedding.Embedder
	index       *vector.Index
	keyword     keyword.Index
	retriever   *retriever.Retriever
	synthesizer *synthesis.Synthesizer
	concurrency int
	logger      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithKeywordIndex maintains a lexical index alongside the vector index.
func WithKeywordIndex(ki keyword.Index) Option {
	return func(e *Engine) { e.keyword = ki }
}

// WithConcurrency bounds in-flight embedding batches during ingestion.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an engine from its collaborators.
func New(
	store storage.Store,
	ch *chunker.Chunker,
	embedder embedding.Embedder,
	index *vector.Index,
	ret *retriever.Retriever,
	syn *synthesis.Synthesizer,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:       store,
		chunker:     ch,
		embedder:    embedder,
		index:       index,
		retriever:   ret,
		synthesizer: syn,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IngestDocument chunks, embeds, persists, and indexes a document. An empty
// docID gets a generated one. The chunks are persisted before any index
// update; a storage failure therefore never leaves vectors pointing at
// unexplainable results. On any failure after the document record exists,
// the record is marked failed with the reason. Re-ingesting an existing id
// supersedes the previous version chunk by chunk.
func (e *Engine) IngestDocument(ctx context.Context, docID, filename, text string) (*models.Document, error) {
	if docID == "" {
		docID = uuid.New().String()
	}

	doc := &models.Document{
		ID:         docID,
		Filename:   filename,
		Length:     len(text),
		Status:     models.StatusPending,
		IngestedAt: time.Now().UTC(),
	}
	if err := e.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	// Previous chunk ids are needed to clear leftovers when the new
	// version produces fewer chunks.
	previous, err := e.store.LoadChunks(ctx, docID)
	if err != nil {
		return nil, e.failIngest(ctx, doc, fmt.Errorf("failed to load previous chunks: %w", err))
	}

	chunks := e.chunker.Chunk(docID, text)
	if err := e.embedChunks(ctx, chunks); err != nil {
		return nil, e.failIngest(ctx, doc, err)
	}

	if err := e.store.SaveChunks(ctx, docID, chunks); err != nil {
		return nil, e.failIngest(ctx, doc, fmt.Errorf("failed to store chunks: %w", err))
	}

	current := make(map[string]bool, len(chunks))
	for _, ch := range chunks {
		current[ch.ID] = true
		if err := e.index.Upsert(ch.ID, ch.Embedding); err != nil {
			return nil, e.failIngest(ctx, doc, fmt.Errorf("failed to index vector for %s: %w", ch.ID, err))
		}
		if e.keyword != nil {
			if err := e.keyword.IndexChunk(ctx, ch); err != nil {
				return nil, e.failIngest(ctx, doc, fmt.Errorf("failed to index keywords for %s: %w", ch.ID, err))
			}
		}
	}
	for _, old := range previous {
		if !current[old.ID] {
			e.index.Remove(old.ID)
			if e.keyword != nil {
				_ = e.keyword.DeleteChunk(ctx, old.ID)
			}
		}
	}

	if err := e.store.SetDocumentStatus(ctx, docID, models.StatusIndexed, len(chunks), ""); err != nil {
		return nil, fmt.Errorf("failed to update document status: %w", err)
	}
	doc.Status = models.StatusIndexed
	doc.ChunkCount = len(chunks)

	e.logger.Info("document ingested",
		zap.String("doc_id", docID),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)))
	return doc, nil
}

// embedChunks fills in chunk embeddings, running batches concurrently up to
// the configured limit. Chunk order and position indexes are never changed
// by the concurrent processing; each batch writes only its own slots.
func (e *Engine) embedChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const batchSize = 32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		part := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(part))
			for i, ch := range part {
				texts[i] = ch.Content
			}
			vecs, err := e.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			for i := range part {
				part[i].Embedding = vecs[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// failIngest marks the document failed and returns the original error.
func (e *Engine) failIngest(ctx context.Context, doc *models.Document, cause error) error {
	if err := e.store.SetDocumentStatus(ctx, doc.ID, models.StatusFailed, 0, cause.Error()); err != nil {
		e.logger.Warn("failed to record ingestion failure",
			zap.String("doc_id", doc.ID), zap.Error(err))
	}
	e.logger.Error("ingestion failed", zap.String("doc_id", doc.ID), zap.Error(cause))
	return cause
}

// BatchInput is one document in a multi-document ingestion request.
type BatchInput struct {
	ID       string
	Filename string
	Text     string
}

// BatchResult is the per-document outcome of a batch ingestion.
type BatchResult struct {
	ID       string
	Document *models.Document
	Err      error
}

// IngestBatch ingests each input in order, continuing past per-document
// failures and collecting a result per document.
func (e *Engine) IngestBatch(ctx context.Context, inputs []BatchInput) []BatchResult {
	results := make([]BatchResult, len(inputs))
	for i, in := range inputs {
		doc, err := e.IngestDocument(ctx, in.ID, in.Filename, in.Text)
		id := in.ID
		if doc != nil {
			id = doc.ID
		}
		results[i] = BatchResult{ID: id, Document: doc, Err: err}
	}
	return results
}

// Query retrieves evidence for the query and synthesizes a cited answer.
// Hits whose chunk rows have been removed since indexing are dropped rather
// than failing the query; the reconciliation sweep cleans such vectors up.
func (e *Engine) Query(ctx context.Context, req *models.QueryRequest) (*models.Answer, error) {
	started := time.Now()

	hits, err := e.retriever.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	evidence := make([]models.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		chunk, err := e.store.GetChunk(ctx, hit.ChunkID)
		if errors.Is(err, models.ErrNotFound) {
			e.logger.Debug("dropping orphaned vector hit", zap.String("chunk_id", hit.ChunkID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %s: %w", hit.ChunkID, err)
		}
		evidence = append(evidence, models.ScoredChunk{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Score:      hit.Score,
			Rank:       len(evidence) + 1,
			Content:    chunk.Content,
			Start:      chunk.Start,
			End:        chunk.End,
		})
	}

	answer, err := e.synthesizer.Synthesize(ctx, req.Query, evidence)
	if err != nil {
		return nil, err
	}
	answer.QueryTimeMS = time.Since(started).Milliseconds()

	if err := e.store.LogQuery(ctx, req.Query, len(evidence), req.SimilarityThreshold, answer.QueryTimeMS); err != nil {
		e.logger.Warn("failed to log query", zap.Error(err))
	}
	return answer, nil
}

// DocumentSummary loads a document and generates a summary from its leading
// chunks. Documents with no indexed chunks get an empty summary without a
// provider call.
func (e *Engine) DocumentSummary(ctx context.Context, docID string) (*models.Document, string, error) {
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, "", err
	}
	chunks, err := e.store.LoadChunks(ctx, docID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load chunks for summary: %w", err)
	}
	summary, err := e.synthesizer.Summarize(ctx, doc.Filename, chunks)
	if err != nil {
		return nil, "", err
	}
	return doc, summary, nil
}

// RemoveDocument deletes a document, its chunks, and its index entries.
// Removing an unknown document succeeds. Index entries go first so a crash
// mid-removal leaves orphaned vectors (cleaned by Reconcile and tolerated by
// the query path) rather than chunks invisible to search.
func (e *Engine) RemoveDocument(ctx context.Context, docID string) error {
	chunks, err := e.store.LoadChunks(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to load chunks for removal: %w", err)
	}
	for _, ch := range chunks {
		e.index.Remove(ch.ID)
		if e.keyword != nil {
			if err := e.keyword.DeleteChunk(ctx, ch.ID); err != nil {
				e.logger.Warn("failed to remove chunk from keyword index",
					zap.String("chunk_id", ch.ID), zap.Error(err))
			}
		}
	}
	if err := e.store.DeleteChunks(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := e.store.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	e.logger.Info("document removed", zap.String("doc_id", docID), zap.Int("chunks", len(chunks)))
	return nil
}

// Reconcile removes vectors whose chunk rows no longer exist. Run at startup
// and after crashes: document removal deletes index entries before rows, so
// the only possible inconsistency is a vector without a chunk.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	ids, err := e.store.AllChunkIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	persisted := make(map[string]bool, len(ids))
	for _, id := range ids {
		persisted[id] = true
	}

	removed := 0
	for _, id := range e.index.IDs() {
		if !persisted[id] {
			e.index.Remove(id)
			if e.keyword != nil {
				_ = e.keyword.DeleteChunk(ctx, id)
			}
			removed++
		}
	}
	if removed > 0 {
		e.logger.Info("reconciled orphaned vectors", zap.Int("removed", removed))
	}
	return removed, nil
}

// RebuildIndex repopulates the vector index from persisted chunk embeddings,
// the recovery path when the index file is corrupt or missing. Chunks stored
// without an embedding are skipped and counted.
func (e *Engine) RebuildIndex(ctx context.Context) (rebuilt, skipped int, err error) {
	chunks, err := e.store.AllChunks(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load chunks: %w", err)
	}
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			skipped++
			continue
		}
		if err := e.index.Upsert(ch.ID, ch.Embedding); err != nil {
			return rebuilt, skipped, fmt.Errorf("failed to index %s: %w", ch.ID, err)
		}
		if e.keyword != nil {
			if err := e.keyword.IndexChunk(ctx, ch); err != nil {
				return rebuilt, skipped, fmt.Errorf("failed to reindex keywords for %s: %w", ch.ID, err)
			}
		}
		rebuilt++
	}
	e.logger.Info("vector index rebuilt", zap.Int("rebuilt", rebuilt), zap.Int("skipped", skipped))
	return rebuilt, skipped, nil
}

// Stats summarizes engine state for the status endpoint.
type Stats struct {
	Documents int64 `json:"documents"`
	Chunks    int64 `json:"chunks"`
	Vectors   int   `json:"vectors"`
}

// Status returns current document, chunk, and vector counts.
func (e *Engine) Status(ctx context.Context) (*Stats, error) {
	docs, err := e.store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := e.store.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Documents: docs, Chunks: chunks, Vectors: e.index.Size()}, nil
}
