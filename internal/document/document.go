package document

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Reserved metadata keys.
const (
	KeyRowIndex   = "row_index"
	KeyStartIndex = "start_index"
)

// SnippetLength bounds the content excerpt returned alongside retrieved documents.
const SnippetLength = 400

// Metadata holds scalar values keyed by column name.
type Metadata map[string]any

// Document is a unit of product text. A document is produced either from one
// table row or from one chunk of a row.
type Document struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Clone returns a copy of m. Chunks derived from a row get their own map so
// the row's metadata is never mutated.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Int returns the integer stored under key. JSON round-trips turn ints into
// float64 or json.Number, both of which are accepted.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// RowIndex returns the origin row of the document, or -1 when absent.
func (d Document) RowIndex() int {
	if i, ok := d.Metadata.Int(KeyRowIndex); ok {
		return i
	}
	return -1
}

// StartIndex returns the rune offset of a chunk within its row content, or -1.
func (d Document) StartIndex() int {
	if i, ok := d.Metadata.Int(KeyStartIndex); ok {
		return i
	}
	return -1
}

// Snippet returns at most SnippetLength runes of the content.
func (d Document) Snippet() string {
	return Truncate(d.Content, SnippetLength)
}

// Truncate cuts s to at most n runes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// ValueString renders a metadata value as text, as used when coercing the
// combined text column to document content.
func ValueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
