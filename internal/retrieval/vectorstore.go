package retrieval

import (
	"context"

	"github.com/kalambet/prodqa/internal/document"
)

// ChunkStore holds embedded chunks and answers nearest-neighbour queries.
// The SQLite implementation scans every vector; an ANN-backed store can
// replace it behind this interface. ExportAll is the migration path between
// backends.
type ChunkStore interface {
	// Insert appends records. Seq values define insertion order and break
	// similarity ties.
	Insert(ctx context.Context, records []Record) error

	// Search returns up to topK records ordered by cosine similarity, highest first.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// ExportAll returns every record in insertion order.
	ExportAll(ctx context.Context) ([]Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Record is one chunk entry: the chunk document and its embedding.
type Record struct {
	ID        string
	Seq       int
	Document  document.Document
	Embedding []float32
}

// ScoredRecord is a Record with its similarity to the query vector.
type ScoredRecord struct {
	Record
	Score float32
}
