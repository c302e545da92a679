// Package models defines core data structures for documents, chunks, queries, and answers.
package models

import (
	"fmt"
	"strings"
	"time"
)

// DocumentStatus is the ingestion lifecycle state of a document.
type DocumentStatus string

const (
	// StatusPending means the document record exists but indexing has not finished.
	StatusPending DocumentStatus = "pending"
	// StatusIndexed means all chunks are persisted and present in the vector index.
	StatusIndexed DocumentStatus = "indexed"
	// StatusFailed means ingestion failed; Error holds the reason.
	StatusFailed DocumentStatus = "failed"
)

// Document represents an ingested document. Records are created at ingestion
// time and, apart from the status transition, never mutated in place;
// re-ingestion under the same ID supersedes the previous version.
type Document struct {
	ID         string         `json:"id" db:"id"`
	Filename   string         `json:"filename" db:"filename"`
	Length     int            `json:"length" db:"length"`
	ChunkCount int            `json:"chunk_count" db:"chunk_count"`
	Status     DocumentStatus `json:"status" db:"status"`
	Error      string         `json:"error,omitempty" db:"error"`
	IngestedAt time.Time      `json:"ingested_at" db:"ingested_at"`
}

// Chunk is a contiguous segment of a document's text, the unit of retrieval.
// Start and End are offsets [Start, End) into the original document text, so
// citations always point back to verifiable source locations.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Position   int       `json:"position" db:"position"`
	Start      int       `json:"start" db:"start"`
	End        int       `json:"end" db:"end"`
	Content    string    `json:"content" db:"content"`
	Section    string    `json:"section,omitempty" db:"section"`
	Embedding  []float32 `json:"-" db:"-"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Size returns the chunk length in characters.
func (c *Chunk) Size() int {
	return c.End - c.Start
}

// ChunkID derives a chunk's identifier from its document and position.
// Deterministic IDs let re-ingestion overwrite chunks in place.
func ChunkID(docID string, position int) string {
	return fmt.Sprintf("%s_%d", docID, position)
}

// ChunkDocumentID recovers the document identifier from a chunk ID produced
// by ChunkID. The position suffix never contains an underscore, so the last
// one always separates it from the document part.
func ChunkDocumentID(chunkID string) string {
	if i := strings.LastIndex(chunkID, "_"); i >= 0 {
		return chunkID[:i]
	}
	return chunkID
}
