package models

import "fmt"

// QueryRequest represents a retrieval query with optional parameters.
// DocumentIDs, when set, restricts retrieval to chunks of those documents.
type QueryRequest struct {
	Query               string   `json:"query"`
	MaxResults          int      `json:"max_results,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty"`
	DocumentIDs         []string `json:"document_ids,omitempty"`
}

// Validate checks the request and applies defaults. The query must be
// non-empty, max_results positive, and the threshold within the cosine
// range [-1, 1]. Called before any remote provider call.
func (q *QueryRequest) Validate(defaultLimit, maxLimit int) error {
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if q.MaxResults < 0 {
		return fmt.Errorf("%w: max_results must be positive, got %d", ErrInvalidInput, q.MaxResults)
	}
	if q.MaxResults == 0 {
		q.MaxResults = defaultLimit
	}
	if maxLimit > 0 && q.MaxResults > maxLimit {
		q.MaxResults = maxLimit
	}
	if q.SimilarityThreshold < -1 || q.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in [-1, 1], got %g", ErrInvalidInput, q.SimilarityThreshold)
	}
	return nil
}
