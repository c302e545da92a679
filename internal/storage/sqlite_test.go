package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testDocument(id string) *models.Document {
	return &models.Document{
		ID:         id,
		Filename:   id + ".md",
		Length:     1200,
		Status:     models.StatusPending,
		IngestedAt: time.Now().UTC(),
	}
}

func testChunk(docID string, pos int) *models.Chunk {
	return &models.Chunk{
		ID:         models.ChunkID(docID, pos),
		DocumentID: docID,
		Position:   pos,
		Start:      pos * 80,
		End:        pos*80 + 100,
		Content:    "chunk content",
		Section:    "Intro",
		Embedding:  []float32{0.1, 0.2, 0.3, 0.4},
		CreatedAt:  time.Now().UTC(),
	}
}

func TestDocumentLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDocument("doc1")
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	got, err := store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Filename != "doc1.md" {
		t.Errorf("expected filename doc1.md, got %s", got.Filename)
	}
	if got.Status != models.StatusPending {
		t.Errorf("expected status pending, got %s", got.Status)
	}

	if err := store.SetDocumentStatus(ctx, "doc1", models.StatusIndexed, 5, ""); err != nil {
		t.Fatalf("SetDocumentStatus failed: %v", err)
	}
	got, err = store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetDocument after status update failed: %v", err)
	}
	if got.Status != models.StatusIndexed {
		t.Errorf("expected status indexed, got %s", got.Status)
	}
	if got.ChunkCount != 5 {
		t.Errorf("expected chunk count 5, got %d", got.ChunkCount)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetDocument(context.Background(), "missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetDocumentStatusNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.SetDocumentStatus(context.Background(), "missing", models.StatusFailed, 0, "boom")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFailedDocumentKeepsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, testDocument("doc1")); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if err := store.SetDocumentStatus(ctx, "doc1", models.StatusFailed, 0, "provider unavailable"); err != nil {
		t.Fatalf("SetDocumentStatus failed: %v", err)
	}

	got, err := store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.Error != "provider unavailable" {
		t.Errorf("expected error message preserved, got %q", got.Error)
	}
}

func TestSaveAndLoadChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, testDocument("doc1")); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	// Save out of order; LoadChunks must return them ordered by position.
	chunks := []*models.Chunk{testChunk("doc1", 2), testChunk("doc1", 0), testChunk("doc1", 1)}
	if err := store.SaveChunks(ctx, "doc1", chunks); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}

	loaded, err := store.LoadChunks(ctx, "doc1")
	if err != nil {
		t.Fatalf("LoadChunks failed: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(loaded))
	}
	for i, c := range loaded {
		if c.Position != i {
			t.Errorf("chunk %d: expected position %d, got %d", i, i, c.Position)
		}
	}

	// Embedding blob roundtrip.
	want := []float32{0.1, 0.2, 0.3, 0.4}
	if len(loaded[0].Embedding) != len(want) {
		t.Fatalf("expected embedding of length %d, got %d", len(want), len(loaded[0].Embedding))
	}
	for i, v := range want {
		if loaded[0].Embedding[i] != v {
			t.Errorf("embedding[%d]: expected %v, got %v", i, v, loaded[0].Embedding[i])
		}
	}
}

func TestSaveChunksIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, testDocument("doc1")); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	chunks := []*models.Chunk{testChunk("doc1", 0), testChunk("doc1", 1)}
	if err := store.SaveChunks(ctx, "doc1", chunks); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}
	chunks[0].Content = "updated"
	if err := store.SaveChunks(ctx, "doc1", chunks); err != nil {
		t.Fatalf("second SaveChunks failed: %v", err)
	}

	n, err := store.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 chunks after re-save, got %d", n)
	}

	got, err := store.GetChunk(ctx, models.ChunkID("doc1", 0))
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if got.Content != "updated" {
		t.Errorf("expected updated content, got %q", got.Content)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, testDocument("doc1")); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if err := store.SaveChunks(ctx, "doc1", []*models.Chunk{testChunk("doc1", 0)}); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}

	if err := store.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if _, err := store.GetDocument(ctx, "doc1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	n, err := store.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected chunks removed with document, found %d", n)
	}

	// Deleting again is a no-op.
	if err := store.DeleteDocument(ctx, "doc1"); err != nil {
		t.Errorf("repeat DeleteDocument failed: %v", err)
	}
}

func TestAllChunkIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, testDocument("doc1")); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if err := store.SaveChunks(ctx, "doc1", []*models.Chunk{testChunk("doc1", 0), testChunk("doc1", 1)}); err != nil {
		t.Fatalf("SaveChunks failed: %v", err)
	}

	ids, err := store.AllChunkIDs(ctx)
	if err != nil {
		t.Fatalf("AllChunkIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	found := false
	for _, id := range ids {
		if id == models.ChunkID("doc1", 0) {
			found = true
		}
	}
	if !found {
		t.Error("expected doc1_0 in id set")
	}
}

func TestListDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateDocument(ctx, testDocument(id)); err != nil {
			t.Fatalf("CreateDocument %s failed: %v", id, err)
		}
	}

	docs, err := store.ListDocuments(ctx, 0, 100)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 3 {
		t.Errorf("expected 3 documents, got %d", len(docs))
	}

	n, err := store.CountDocuments(ctx)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected count 3, got %d", n)
	}
}

func TestLogQuery(t *testing.T) {
	store := newTestStore(t)

	err := store.LogQuery(context.Background(), "what is chunking", 3, 0.3, 42)
	if err != nil {
		t.Errorf("LogQuery failed: %v", err)
	}
}
