// Package storage defines the persistence interface for documents and chunks.
package storage

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// Store defines document and chunk persistence. It is the engine's only
// durable record of what has been ingested; the vector index can always be
// rebuilt from it.
type Store interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// SetDocumentStatus records the ingestion outcome: chunk count plus the
	// indexed/failed transition, with the failure reason when present.
	SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, chunkCount int, errMsg string) error
	// DeleteDocument removes a document; deleting an unknown id succeeds.
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// Chunk operations
	// SaveChunks persists a document's chunks (embeddings included) in one
	// transaction so the vector index never references half-saved chunks.
	SaveChunks(ctx context.Context, documentID string, chunks []*models.Chunk) error
	LoadChunks(ctx context.Context, documentID string) ([]*models.Chunk, error)
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	DeleteChunks(ctx context.Context, documentID string) error
	// AllChunkIDs returns every persisted chunk id; used by the orphan
	// reconciliation sweep.
	AllChunkIDs(ctx context.Context) ([]string, error)
	// AllChunks streams every chunk (embeddings included) for index rebuild.
	AllChunks(ctx context.Context) ([]*models.Chunk, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	// LogQuery records a served query for observability.
	LogQuery(ctx context.Context, query string, results int, threshold float64, durationMS int64) error

	Close() error
}
