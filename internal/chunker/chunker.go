// Package chunker splits document text into overlapping chunks with stable
// offsets into the original text.
package chunker

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/models"
)

// boundaryLookbackRatio bounds how far a split point may be pulled backward
// to land on a sentence or paragraph boundary.
const boundaryLookbackRatio = 0.15

// Config controls chunk size, overlap, and boundary handling. Sizes are in
// characters of the input text.
type Config struct {
	Size     int
	Overlap  int
	Boundary bool
}

// Validate checks the chunking parameters.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrConfiguration, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			models.ErrConfiguration, c.Overlap, c.Size)
	}
	return nil
}

// Chunker splits text into overlapping character windows.
type Chunker struct {
	config Config
}

// NewChunker creates a chunker with the given config. Returns
// models.ErrConfiguration for invalid size/overlap combinations.
func NewChunker(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// Chunk splits text into ordered chunks. Offsets reference the original
// input. Empty text yields zero chunks; text shorter than the chunk size
// yields exactly one chunk covering the whole text. Chunk IDs are derived
// from the document ID and position so re-ingestion is idempotent per chunk.
func (c *Chunker) Chunk(docID, text string) []*models.Chunk {
	if len(text) == 0 {
		return nil
	}
	headings := scanHeadings(text)
	lookback := int(float64(c.config.Size) * boundaryLookbackRatio)
	now := time.Now()

	var chunks []*models.Chunk
	start := 0
	for start < len(text) {
		end := start + c.config.Size
		if end >= len(text) {
			end = len(text)
		} else {
			if c.config.Boundary {
				end = pullToBoundary(text, start, end, lookback)
			}
			end = alignToRune(text, end)
		}
		chunks = append(chunks, &models.Chunk{
			ID:         models.ChunkID(docID, len(chunks)),
			DocumentID: docID,
			Position:   len(chunks),
			Start:      start,
			End:        end,
			Content:    text[start:end],
			Section:    headings.sectionAt(start),
			CreatedAt:  now,
		})
		if end >= len(text) {
			break
		}
		next := alignToRune(text, end-c.config.Overlap)
		if next <= start {
			// The window must always advance. Rune alignment can pull a
			// high-overlap step back onto the current start, so step forward
			// over one full rune instead.
			_, width := utf8.DecodeRuneInString(text[start:])
			next = start + width
		}
		start = next
	}
	return chunks
}

// pullToBoundary moves the split point backward (never forward) to just after
// the nearest sentence or paragraph boundary within the lookback window.
// Returns the raw offset when none is found.
func pullToBoundary(text string, start, end, lookback int) int {
	floor := end - lookback
	if floor <= start {
		floor = start + 1
	}
	// Paragraph breaks win over sentence ends.
	for i := end - 1; i >= floor; i-- {
		if text[i] == '\n' && i > 0 && text[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		switch text[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return end
}

// alignToRune moves pos backward to the nearest UTF-8 rune start so a window
// never splits a multi-byte character.
func alignToRune(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// headingIndex maps text offsets to the most recent Markdown-style heading.
type headingIndex []heading

type heading struct {
	offset int
	title  string
}

func scanHeadings(text string) headingIndex {
	var hs headingIndex
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			if title != "" {
				hs = append(hs, heading{offset: offset, title: title})
			}
		}
		offset += len(line)
	}
	return hs
}

// sectionAt returns the title of the last heading at or before offset.
func (h headingIndex) sectionAt(offset int) string {
	section := ""
	for _, hd := range h {
		if hd.offset > offset {
			break
		}
		section = hd.title
	}
	return section
}
