// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist. Use
// ":memory:" for an in-memory store in tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	// Foreign keys must be set per connection, so it goes in the DSN
	// rather than a PRAGMA on one pooled connection.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT,
		length INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		ingested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		content TEXT NOT NULL,
		section TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_position ON chunks(document_id, position);

	CREATE TABLE IF NOT EXISTS query_logs (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		results INTEGER NOT NULL,
		threshold REAL NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document record, updating any previous version
// under the same id (re-ingestion supersedes). An update rather than a
// replace, so the existing row's chunks are untouched until SaveChunks.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now()
	}
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, length, chunk_count, status, error, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			length = excluded.length,
			chunk_count = excluded.chunk_count,
			status = excluded.status,
			error = excluded.error,
			ingested_at = excluded.ingested_at`,
		doc.ID, doc.Filename, doc.Length, doc.ChunkCount, string(doc.Status), doc.Error, doc.IngestedAt,
	)
	return err
}

// GetDocument returns a document by ID, or models.ErrNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, length, chunk_count, status, error, ingested_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Filename, &doc.Length, &doc.ChunkCount, &status, &doc.Error, &doc.IngestedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

// SetDocumentStatus records the ingestion outcome for a document.
func (s *SQLiteStore) SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, chunkCount int, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, chunk_count = ?, error = ? WHERE id = ?`,
		string(status), chunkCount, errMsg, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	return nil
}

// DeleteDocument removes a document record. Unknown ids succeed.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// ListDocuments returns documents ordered by ingestion time, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, length, chunk_count, status, error, ingested_at
		 FROM documents ORDER BY ingested_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var status string
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Length, &doc.ChunkCount, &status, &doc.Error, &doc.IngestedAt); err != nil {
			return nil, err
		}
		doc.Status = models.DocumentStatus(status)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// SaveChunks replaces all chunks for a document in one transaction. Older
// chunks from a previous ingestion of the same document are dropped, so a
// shrinking re-ingest never leaves stale rows behind.
func (s *SQLiteStore) SaveChunks(ctx context.Context, documentID string, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, document_id, position, start_offset, end_offset, content, section, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.Position, ch.Start, ch.End, ch.Content, ch.Section,
			encodeEmbedding(ch.Embedding), ch.CreatedAt,
		); err != nil {
			return fmt.Errorf("save chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// LoadChunks returns a document's chunks in position order.
func (s *SQLiteStore) LoadChunks(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, position, start_offset, end_offset, content, section, embedding, created_at
		 FROM chunks WHERE document_id = ? ORDER BY position`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunk returns a chunk by ID, or models.ErrNotFound.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, position, start_offset, end_offset, content, section, embedding, created_at
		 FROM chunks WHERE id = ?`, id)
	ch, err := scanChunk(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: chunk %s", models.ErrNotFound, id)
	}
	return ch, err
}

// DeleteChunks removes all chunks for a document.
func (s *SQLiteStore) DeleteChunks(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	return err
}

// AllChunkIDs returns every persisted chunk id.
func (s *SQLiteStore) AllChunkIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllChunks returns every chunk with its embedding, ordered by document and
// position, for vector index rebuild.
func (s *SQLiteStore) AllChunks(ctx context.Context) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, position, start_offset, end_offset, content, section, embedding, created_at
		 FROM chunks ORDER BY document_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// CountDocuments returns the number of documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// CountChunks returns the number of chunks.
func (s *SQLiteStore) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// LogQuery records a served query.
func (s *SQLiteStore) LogQuery(ctx context.Context, query string, results int, threshold float64, durationMS int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_logs (id, query, results, threshold, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), query, results, threshold, durationMS)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanChunks(rows *sql.Rows) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func scanChunk(scan func(...interface{}) error) (*models.Chunk, error) {
	var ch models.Chunk
	var blob []byte
	if err := scan(&ch.ID, &ch.DocumentID, &ch.Position, &ch.Start, &ch.End,
		&ch.Content, &ch.Section, &blob, &ch.CreatedAt); err != nil {
		return nil, err
	}
	emb, err := decodeEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
	}
	ch.Embedding = emb
	return &ch, nil
}
