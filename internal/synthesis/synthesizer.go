// Package synthesis turns ranked evidence chunks into a grounded answer with
// citations.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/completion"
	"github.com/hyperjump/kotae/internal/models"
)

// NoEvidenceAnswer is returned, without a provider call, when retrieval
// found nothing above the threshold.
const NoEvidenceAnswer = "No relevant evidence was found in the indexed documents for this query."

// Synthesizer builds completion prompts from evidence and maps responses
// back to cited chunks.
type Synthesizer struct {
	completer completion.Completer
	logger    *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synthesizer) { s.logger = logger }
}

// New creates a synthesizer over the given completion provider.
func New(completer completion.Completer, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		completer: completer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize generates an answer for the query grounded in the evidence
// chunks. Evidence must already be in rank order; chunks appear in the prompt
// best-first so provider-side context truncation drops the weakest evidence.
// With no evidence it short-circuits to a fixed answer and never calls the
// provider. Provider failures pass through typed, so callers can distinguish
// rate limits, content rejection, and outages.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, evidence []models.ScoredChunk) (*models.Answer, error) {
	if len(evidence) == 0 {
		return &models.Answer{
			Query:     query,
			Text:      NoEvidenceAnswer,
			Citations: []models.Citation{},
			Evidence:  []models.ScoredChunk{},
		}, nil
	}

	prompt := buildPrompt(query, evidence)
	text, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	citations := make([]models.Citation, len(evidence))
	for i, ev := range evidence {
		citations[i] = models.Citation{
			ChunkID:    ev.ChunkID,
			DocumentID: ev.DocumentID,
			Start:      ev.Start,
			End:        ev.End,
			Score:      ev.Score,
		}
	}

	s.logger.Debug("answer synthesized",
		zap.Int("evidence", len(evidence)),
		zap.Int("answer_length", len(text)))

	return &models.Answer{
		Query:     query,
		Text:      text,
		Citations: citations,
		Evidence:  evidence,
	}, nil
}

// summaryChunkLimit bounds how much of a document feeds the summary prompt.
const summaryChunkLimit = 5

// Summarize generates a short summary of a document from its leading chunks.
// Chunks must be in position order. A document with no chunks yields an empty
// summary without a provider call.
func (s *Synthesizer) Summarize(ctx context.Context, filename string, chunks []*models.Chunk) (string, error) {
	if len(chunks) == 0 {
		return "", nil
	}
	if len(chunks) > summaryChunkLimit {
		chunks = chunks[:summaryChunkLimit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the following document (%s) in a few sentences.\n\n", filename)
	for _, ch := range chunks {
		b.WriteString(ch.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Summary:")

	text, err := s.completer.Complete(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("summary completion failed: %w", err)
	}
	s.logger.Debug("document summarized",
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)))
	return text, nil
}

// buildPrompt lays out the evidence verbatim, each chunk tagged with its
// 1-based citation marker, followed by the question.
func buildPrompt(query string, evidence []models.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("Cite supporting passages with their [n] markers. ")
	b.WriteString("If the context does not contain the answer, say so.\n\nContext:\n")
	for i, ev := range evidence {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, ev.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}
