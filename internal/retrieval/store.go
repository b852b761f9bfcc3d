package retrieval

import (
	"cmp"
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/kalambet/prodqa/internal/document"
)

var _ ChunkStore = (*SQLiteStore)(nil)

// SQLiteStore keeps chunks in the chunks table of an index database and
// answers queries with an exact cosine scan.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore uses db as is; the chunks table comes from the storage
// migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert writes all records or none.
func (s *SQLiteStore) Insert(ctx context.Context, records []Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, seq, content, metadata, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Document.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata of %s: %w", r.ID, err)
		}
		_, err = stmt.ExecContext(ctx, r.ID, r.Seq, r.Document.Content, string(meta), encodeFloat32s(r.Embedding))
		if err != nil {
			return fmt.Errorf("inserting %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// candidate is a scan hit before its content is loaded.
type candidate struct {
	seq   int
	score float32
}

// Search scans every embedding in seq order and keeps the topK best. A later
// row replaces a kept one only with a strictly higher score, so equal scores
// keep insertion order. Content and metadata are loaded for the winners only.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	qNorm := l2norm(vector)
	if qNorm == 0 {
		return nil, nil
	}

	best, err := s.scan(ctx, vector, qNorm, topK)
	if err != nil || len(best) == 0 {
		return nil, err
	}

	records, err := s.bySeq(ctx, best)
	if err != nil {
		return nil, err
	}
	results := make([]ScoredRecord, 0, len(records))
	for _, r := range records {
		results = append(results, ScoredRecord{Record: r, Score: best[r.Seq]})
	}
	slices.SortFunc(results, func(a, b ScoredRecord) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return results, nil
}

// scan returns the seq and score of the topK most similar rows.
func (s *SQLiteStore) scan(ctx context.Context, q []float32, qNorm float64, topK int) (map[int]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}
	defer rows.Close()

	var (
		h   worstFirst
		vec []float32
	)
	for rows.Next() {
		var (
			seq  int
			blob []byte
		)
		if err := rows.Scan(&seq, &blob); err != nil {
			return nil, fmt.Errorf("reading embedding row: %w", err)
		}
		if vec, err = decodeFloat32sInto(vec, blob); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", seq, err)
		}
		if len(vec) != len(q) {
			return nil, fmt.Errorf("chunk %d has %d dimensions, query has %d; the index was built with another embedding model",
				seq, len(vec), len(q))
		}

		c := candidate{seq: seq, score: cosineSimilarity(q, qNorm, vec)}
		switch {
		case h.Len() < topK:
			heap.Push(&h, c)
		case c.score > h[0].score:
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}

	best := make(map[int]float32, h.Len())
	for _, c := range h {
		best[c.seq] = c.score
	}
	return best, nil
}

func (s *SQLiteStore) bySeq(ctx context.Context, seqs map[int]float32) ([]Record, error) {
	args := make([]any, 0, len(seqs))
	for seq := range seqs {
		args = append(args, seq)
	}
	q := `SELECT id, seq, content, metadata, embedding FROM chunks WHERE seq IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(args)), ",") + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("loading matched chunks: %w", err)
	}
	defer rows.Close()
	return readRecords(rows)
}

// ExportAll returns every record in seq order.
func (s *SQLiteStore) ExportAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, content, metadata, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("exporting chunks: %w", err)
	}
	defer rows.Close()
	return readRecords(rows)
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

func readRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			r    Record
			meta string
			blob []byte
		)
		if err := rows.Scan(&r.ID, &r.Seq, &r.Document.Content, &meta, &blob); err != nil {
			return nil, fmt.Errorf("reading chunk row: %w", err)
		}
		m, err := parseMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("chunk %s metadata: %w", r.ID, err)
		}
		r.Document.Metadata = m
		if r.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// parseMetadata keeps numbers as json.Number so integer cells such as
// row_index come back exact.
func parseMetadata(raw string) (document.Metadata, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	m := document.Metadata{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// worstFirst is a min-heap of candidates. Among equal scores the newest row
// is on top, so it is the one evicted.
type worstFirst []candidate

func (h worstFirst) Len() int { return len(h) }
func (h worstFirst) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].seq > h[j].seq
}
func (h worstFirst) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)   { *h = append(*h, x.(candidate)) }
func (h *worstFirst) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}
