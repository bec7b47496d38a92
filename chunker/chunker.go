// Package chunker splits extracted page text into overlapping fixed-size
// passages tagged with their originating page.
package chunker

import (
	"strings"

	"github.com/fabfab/pdf-qa/extract"
)

// DefaultChunkSize is the default passage length in characters.
const DefaultChunkSize = 1000

// DefaultOverlap is the default number of characters shared between
// consecutive passages from the same page, so sentences spanning a split
// point are not lost.
const DefaultOverlap = 200

// Passage is a chunk candidate: trimmed non-empty text plus its 1-based page.
type Passage struct {
	Page int
	Text string
}

type Splitter struct {
	chunkSize int
	overlap   int
}

type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}

	return s
}

// Split produces passages in the document's reading order: ascending page
// number, then position within the page. Pages with no usable text
// contribute zero passages. Overlap never crosses a page boundary.
func (s *Splitter) Split(pages []extract.Page) []Passage {
	passages := make([]Passage, 0)
	for _, page := range pages {
		passages = append(passages, s.splitPage(page)...)
	}
	return passages
}

func (s *Splitter) splitPage(page extract.Page) []Passage {
	content := []rune(strings.TrimSpace(page.Text))
	if len(content) == 0 {
		return nil
	}

	passages := make([]Passage, 0, len(content)/(s.chunkSize-s.overlap)+1)
	start := 0
	for start < len(content) {
		end := start + s.chunkSize
		if end >= len(content) {
			end = len(content)
		} else if cut := lastSpace(content[start:end]); cut > s.overlap {
			// Prefer breaking on whitespace over splitting a word, as long
			// as the shortened window still advances past the overlap.
			end = start + cut
		}

		text := strings.TrimSpace(string(content[start:end]))
		if text != "" {
			passages = append(passages, Passage{Page: page.Number, Text: text})
		}

		if end == len(content) {
			break
		}
		start = end - s.overlap
	}

	return passages
}

func lastSpace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == ' ' || window[i] == '\n' || window[i] == '\t' {
			return i
		}
	}
	return -1
}
