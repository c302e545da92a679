package models

// ScoredChunk is a single retrieval hit: a chunk reference with its cosine
// similarity score in [-1, 1] and its 1-based rank position.
type ScoredChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	Content    string  `json:"content,omitempty"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
}

// Citation points from a generated answer back to the exact chunk and offset
// range that supports it, so provenance can be verified independently of
// trusting the generated text.
type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Answer is a synthesized response with its supporting evidence in rank
// order. An empty Evidence list means no chunk cleared the similarity
// threshold and the text was produced without a provider call.
type Answer struct {
	Query       string        `json:"query"`
	Text        string        `json:"text"`
	Citations   []Citation    `json:"citations"`
	Evidence    []ScoredChunk `json:"evidence"`
	QueryTimeMS int64         `json:"query_time_ms"`
}
