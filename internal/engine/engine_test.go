package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/completion"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retriever"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/synthesis"
	"github.com/hyperjump/kotae/internal/vector"
)

const testDims = 8

type testEngine struct {
	engine    *Engine
	store     storage.Store
	index     *vector.Index
	completer *completion.MockCompleter
}

func newTestEngine(t *testing.T, chunkCfg chunker.Config) *testEngine {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ch, err := chunker.NewChunker(chunkCfg)
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(testDims)
	index, err := vector.NewIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	ki, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ki.Close() })

	retCfg := config.RetrievalConfig{DefaultLimit: 5, MaxLimit: 50, RerankFactor: 4}
	ret := retriever.New(embedder, index, retCfg)
	completer := &completion.MockCompleter{Response: "synthesized answer [1]"}
	syn := synthesis.New(completer)

	eng := New(store, ch, embedder, index, ret, syn, WithKeywordIndex(ki))
	return &testEngine{engine: eng, store: store, index: index, completer: completer}
}

func defaultChunkConfig() chunker.Config {
	return chunker.Config{Size: 100, Overlap: 20}
}

func TestIngestAndQuery(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())
	ctx := context.Background()

	// 250 characters, non-periodic so overlapping windows never share
	// identical content.
	var b strings.Builder
	for i := 0; i < 250; i++ {
		b.WriteByte(byte('a' + (i*7)%26))
	}
	text := b.String()
	doc, err := te.engine.IngestDocument(ctx, "doc1", "doc1.txt", text)
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if doc.Status != models.StatusIndexed {
		t.Errorf("expected status indexed, got %s", doc.Status)
	}
	if doc.ChunkCount != 3 {
		t.Errorf("expected 3 chunks for 250 chars at size 100 overlap 20, got %d", doc.ChunkCount)
	}

	chunks, err := te.store.LoadChunks(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	wantStarts := []int{0, 80, 160}
	for i, c := range chunks {
		if c.Start != wantStarts[i] {
			t.Errorf("chunk %d: expected start %d, got %d", i, wantStarts[i], c.Start)
		}
	}
	if te.index.Size() != 3 {
		t.Errorf("expected 3 vectors, got %d", te.index.Size())
	}

	// Querying with one chunk's exact text and a near-1.0 threshold must
	// return exactly that chunk as evidence.
	answer, err := te.engine.Query(ctx, &models.QueryRequest{
		Query:               chunks[1].Content,
		SimilarityThreshold: 0.99,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(answer.Evidence) != 1 {
		t.Fatalf("expected exactly 1 evidence chunk, got %d", len(answer.Evidence))
	}
	if answer.Evidence[0].ChunkID != chunks[1].ID {
		t.Errorf("expected evidence %s, got %s", chunks[1].ID, answer.Evidence[0].ChunkID)
	}
	if answer.Evidence[0].Score < 0.999 {
		t.Errorf("expected score close to 1.0, got %v", answer.Evidence[0].Score)
	}
	if answer.Text != "synthesized answer [1]" {
		t.Errorf("unexpected answer text: %q", answer.Text)
	}
	if len(answer.Citations) != 1 || answer.Citations[0].DocumentID != "doc1" {
		t.Errorf("unexpected citations: %+v", answer.Citations)
	}
}

func TestIngestEmptyText(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())

	doc, err := te.engine.IngestDocument(context.Background(), "empty", "empty.txt", "")
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if doc.Status != models.StatusIndexed {
		t.Errorf("expected status indexed, got %s", doc.Status)
	}
	if doc.ChunkCount != 0 {
		t.Errorf("expected 0 chunks, got %d", doc.ChunkCount)
	}
}

func TestIngestGeneratesID(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())

	doc, err := te.engine.IngestDocument(context.Background(), "", "note.txt", "some text")
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if doc.ID == "" {
		t.Error("expected a generated document id")
	}
}

func TestReingestSupersedes(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())
	ctx := context.Background()

	long := strings.Repeat("x", 250)
	if _, err := te.engine.IngestDocument(ctx, "doc1", "doc1.txt", long); err != nil {
		t.Fatal(err)
	}
	if te.index.Size() != 3 {
		t.Fatalf("expected 3 vectors after first ingest, got %d", te.index.Size())
	}

	// Shrinking re-ingest must remove the now-stale chunks everywhere.
	short := strings.Repeat("y", 50)
	doc, err := te.engine.IngestDocument(ctx, "doc1", "doc1.txt", short)
	if err != nil {
		t.Fatal(err)
	}
	if doc.ChunkCount != 1 {
		t.Errorf("expected 1 chunk after re-ingest, got %d", doc.ChunkCount)
	}
	if te.index.Size() != 1 {
		t.Errorf("expected 1 vector after re-ingest, got %d", te.index.Size())
	}
	n, err := te.store.CountChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 persisted chunk after re-ingest, got %d", n)
	}
}

func TestIngestEmbedderFailureMarksFailed(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())
	ctx := context.Background()

	failing := &failingEmbedder{}
	ch, err := chunker.NewChunker(defaultChunkConfig())
	if err != nil {
		t.Fatal(err)
	}
	ret := retriever.New(failing, te.index, config.RetrievalConfig{DefaultLimit: 5, MaxLimit: 50})
	eng := New(te.store, ch, failing, te.index, ret, synthesis.New(te.completer))

	_, err = eng.IngestDocument(ctx, "doc1", "doc1.txt", "some text to embed")
	if !errors.Is(err, models.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	doc, err := te.store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != models.StatusFailed {
		t.Errorf("expected status failed, got %s", doc.Status)
	}
	if doc.Error == "" {
		t.Error("expected failure reason recorded")
	}
	if te.index.Size() != 0 {
		t.Errorf("expected no vectors after failed ingest, got %d", te.index.Size())
	}
}

func TestIngestBatchContinuesPastFailure(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())

	results := te.engine.IngestBatch(context.Background(), []BatchInput{
		{ID: "a", Filename: "a.txt", Text: "first document"},
		{ID: "b", Filename: "b.txt", Text: "second document"},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("document %s: unexpected error %v", r.ID, r.Err)
		}
	}
}

func TestQueryAfterRemovalFindsNothing(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())
	ctx := context.Background()

	if _, err := te.engine.IngestDocument(ctx, "doc1", "doc1.txt", "the only indexed content"); err != nil {
		t.Fatal(err)
	}
	if err := te.engine.RemoveDocument(ctx, "doc1"); err != nil {
		t.Fatalf("RemoveDocument failed: %v", err)
	}
	if te.index.Size() != 0 {
		t.Errorf("expected empty index after removal, got %d", te.index.Size())
	}

	answer, err := te.engine.Query(ctx, &models.QueryRequest{Query: "the only indexed content"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(answer.Evidence) != 0 {
		t.Errorf("expected no evidence after removal, got %d", len(answer.Evidence))
	}
	if answer.Text != synthesis.NoEvidenceAnswer {
		t.Errorf("expected no-evidence answer, got %q", answer.Text)
	}
	if len(te.completer.Prompts) != 0 {
		t.Error("provider should not be called when nothing was retrieved")
	}
}

func TestRemoveUnknownDocumentSucceeds(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())

	if err := te.engine.RemoveDocument(context.Background(), "never-ingested"); err != nil {
		t.Errorf("expected idempotent removal, got %v", err)
	}
}

func TestReconcileRemovesOrphanedVectors(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())
	ctx := context.Background()

	if _, err := te.engine.IngestDocument(ctx, "doc1", "doc1.txt", "persisted content"); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash between index update and row deletion.
	orphan := make([]float32, testDims)
	orphan[0] = 1
	if err := te.index.Upsert("ghost_0", orphan); err != nil {
		t.Fatal(err)
	}

	removed, err := te.engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 orphan removed, got %d", removed)
	}
	if te.index.Has("ghost_0") {
		t.Error("orphan should be gone from the index")
	}
	if !te.index.Has(models.ChunkID("doc1", 0)) {
		t.Error("persisted chunk should survive reconcile")
	}
}

func TestRebuildIndex(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())
	ctx := context.Background()

	if _, err := te.engine.IngestDocument(ctx, "doc1", "doc1.txt", strings.Repeat("z", 250)); err != nil {
		t.Fatal(err)
	}

	// A fresh index stands in for one lost to corruption.
	fresh, err := vector.NewIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	te.engine.index = fresh

	rebuilt, skipped, err := te.engine.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildIndex failed: %v", err)
	}
	if rebuilt != 3 || skipped != 0 {
		t.Errorf("expected 3 rebuilt and 0 skipped, got %d and %d", rebuilt, skipped)
	}
	if fresh.Size() != 3 {
		t.Errorf("expected 3 vectors after rebuild, got %d", fresh.Size())
	}
}

func TestStatus(t *testing.T) {
	te := newTestEngine(t, defaultChunkConfig())
	ctx := context.Background()

	if _, err := te.engine.IngestDocument(ctx, "doc1", "doc1.txt", strings.Repeat("q", 250)); err != nil {
		t.Fatal(err)
	}

	stats, err := te.engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if stats.Documents != 1 || stats.Chunks != 3 || stats.Vectors != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// failingEmbedder always reports the provider as unavailable.
type failingEmbedder struct{}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, models.ErrProviderUnavailable
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, models.ErrProviderUnavailable
}

func (f *failingEmbedder) Dimensions() int { return testDims }
func (f *failingEmbedder) Close() error    { return nil }
