// Package chunking splits document content into overlapping, boundary-aware
// chunks. Every chunk is an exact substring of its parent and records the
// rune offset where it starts.
package chunking

import (
	"fmt"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/document"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word.
// The trailing empty separator is the hard character cut.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is a slice of a parent text. Start is a rune offset into the parent.
type Chunk struct {
	Text  string
	Start int
}

// Splitter is a recursive character splitter measuring length in runes.
type Splitter struct {
	size       int
	overlap    int
	separators [][]rune
}

// New returns a Splitter producing chunks of at most size runes where
// consecutive chunks share at most overlap runes.
func New(size, overlap int) (*Splitter, error) {
	return NewWithSeparators(size, overlap, DefaultSeparators)
}

// NewWithSeparators is New with a caller-chosen separator order. The hard cut
// is appended when seps does not end with it.
func NewWithSeparators(size, overlap int, seps []string) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", apperr.ErrInvalidArgument, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", apperr.ErrInvalidArgument, overlap, size)
	}
	s := &Splitter{size: size, overlap: overlap}
	for _, sep := range seps {
		s.separators = append(s.separators, []rune(sep))
	}
	if len(seps) == 0 || seps[len(seps)-1] != "" {
		s.separators = append(s.separators, nil)
	}
	return s, nil
}

// Size returns the configured maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// span is a half-open rune range [start, end).
type span struct {
	start, end int
}

func (p span) len() int { return p.end - p.start }

// Split cuts text into chunks. Empty text yields no chunks.
func (s *Splitter) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	pieces := s.pieces(runes, span{0, len(runes)}, s.separators)
	windows := s.merge(pieces)

	chunks := make([]Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = Chunk{Text: string(runes[w.start:w.end]), Start: w.start}
	}
	return chunks
}

// SplitDocument splits doc into chunk documents. Each chunk carries a copy of
// the parent metadata plus its start_index. Ingestion rejects sources that
// bring their own start_index column, so the key is never overwritten.
func (s *Splitter) SplitDocument(doc document.Document) []document.Document {
	chunks := s.Split(doc.Content)
	out := make([]document.Document, len(chunks))
	for i, c := range chunks {
		meta := doc.Metadata.Clone()
		meta[document.KeyStartIndex] = c.Start
		out[i] = document.Document{Content: c.Text, Metadata: meta}
	}
	return out
}

// SplitDocuments applies SplitDocument to every document, preserving order.
func (s *Splitter) SplitDocuments(docs []document.Document) []document.Document {
	var out []document.Document
	for _, d := range docs {
		out = append(out, s.SplitDocument(d)...)
	}
	return out
}

// pieces partitions r into atomic spans no longer than s.size. A span that is
// too long is cut at the first separator present in it; each separator stays
// attached to the piece it ends. Pieces still too long recurse with the
// remaining, finer separators.
func (s *Splitter) pieces(r []rune, whole span, seps [][]rune) []span {
	if whole.len() <= s.size {
		return []span{whole}
	}

	sepIdx := len(seps) - 1
	for i, sep := range seps {
		if len(sep) == 0 || indexRunes(r[whole.start:whole.end], sep) >= 0 {
			sepIdx = i
			break
		}
	}
	sep := seps[sepIdx]

	if len(sep) == 0 {
		out := make([]span, 0, whole.len())
		for p := whole.start; p < whole.end; p++ {
			out = append(out, span{p, p + 1})
		}
		return out
	}

	var out []span
	cur := whole.start
	for cur < whole.end {
		idx := indexRunes(r[cur:whole.end], sep)
		next := whole.end
		if idx >= 0 {
			next = cur + idx + len(sep)
		}
		piece := span{cur, next}
		if piece.len() <= s.size {
			out = append(out, piece)
		} else {
			out = append(out, s.pieces(r, piece, seps[sepIdx+1:])...)
		}
		cur = next
	}
	return out
}

// merge greedily packs consecutive pieces into windows of at most s.size
// runes. When a window is full, pieces are dropped from its front until what
// remains fits the overlap budget and leaves room for the next piece; the
// remainder opens the next window.
func (s *Splitter) merge(pieces []span) []span {
	var windows []span
	first, total := 0, 0
	for j, p := range pieces {
		n := p.len()
		if total+n > s.size && j > first {
			windows = append(windows, span{pieces[first].start, pieces[j-1].end})
			for first < j && (total > s.overlap || (total+n > s.size && total > 0)) {
				total -= pieces[first].len()
				first++
			}
		}
		total += n
	}
	if first < len(pieces) {
		windows = append(windows, span{pieces[first].start, pieces[len(pieces)-1].end})
	}
	return windows
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
