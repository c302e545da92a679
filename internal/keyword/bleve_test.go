package keyword

import (
	"context"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	ix, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestBleveIndex_IndexAndSearch(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	chunks := []*models.Chunk{
		{ID: "d1_0", DocumentID: "d1", Content: "refund policy for annual subscriptions"},
		{ID: "d1_1", DocumentID: "d1", Content: "shipping times for international orders"},
		{ID: "d2_0", DocumentID: "d2", Content: "the refund window is thirty days"},
	}
	for _, ch := range chunks {
		if err := ix.IndexChunk(ctx, ch); err != nil {
			t.Fatal(err)
		}
	}
	results, err := ix.Search(ctx, "refund", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(results))
	}
	for _, r := range results {
		if r.ID != "d1_0" && r.ID != "d2_0" {
			t.Errorf("unexpected hit %s", r.ID)
		}
		if r.Score <= 0 {
			t.Errorf("hit %s has non-positive score %g", r.ID, r.Score)
		}
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	ch := &models.Chunk{ID: "d1_0", DocumentID: "d1", Content: "unique marker phrase"}
	if err := ix.IndexChunk(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if err := ix.DeleteChunk(ctx, "d1_0"); err != nil {
		t.Fatal(err)
	}
	results, err := ix.Search(ctx, "marker", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("deleted chunk still returned: %v", results)
	}
	// Deleting an absent chunk is not an error.
	if err := ix.DeleteChunk(ctx, "never-existed"); err != nil {
		t.Errorf("delete of absent chunk errored: %v", err)
	}
}

func TestBleveIndex_SearchLimit(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ch := &models.Chunk{ID: string(rune('a' + i)), DocumentID: "d1", Content: "common topic sentence"}
		if err := ix.IndexChunk(ctx, ch); err != nil {
			t.Fatal(err)
		}
	}
	results, err := ix.Search(ctx, "topic", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("limit not honored: got %d", len(results))
	}
}
