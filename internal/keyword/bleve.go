package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/kotae/internal/models"
)

// BleveIndex implements Index using Bleve over chunk content.
type BleveIndex struct {
	index bleve.Index
}

// chunkDoc is the indexed shape of a chunk. Only the fields the lexical
// signal needs are stored.
type chunkDoc struct {
	Content    string `json:"content"`
	Section    string `json:"section"`
	DocumentID string `json:"document_id"`
}

func chunkMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so query terms
	// match exact words in chunk text.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("section", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("document_id", keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path builds
// a memory-only index (used in tests and when re-ranking is enabled without
// a configured path).
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := chunkMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("create in-memory keyword index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open keyword index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexChunk indexes a chunk's content by chunk ID.
func (b *BleveIndex) IndexChunk(ctx context.Context, chunk *models.Chunk) error {
	return b.index.Index(chunk.ID, &chunkDoc{
		Content:    chunk.Content,
		Section:    chunk.Section,
		DocumentID: chunk.DocumentID,
	})
}

// DeleteChunk removes a chunk from the index. Absent IDs are a no-op.
func (b *BleveIndex) DeleteChunk(ctx context.Context, chunkID string) error {
	return b.index.Delete(chunkID)
}

// Search runs a match query over chunk content and returns up to limit hits.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	results := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &Result{ID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
