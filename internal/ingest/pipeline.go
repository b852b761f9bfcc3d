package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/chunking"
	"github.com/kalambet/prodqa/internal/document"
	"github.com/kalambet/prodqa/internal/retrieval"
	"github.com/kalambet/prodqa/internal/storage"
)

const embedBatchSize = 128

// chunkNamespace derives stable chunk IDs from (row, offset).
var chunkNamespace = uuid.MustParse("7a0c1f8e-3c3b-4d8e-9a57-5f0f2b8f6a11")

// BatchEmbedder embeds chunk texts. Model and Normalize are recorded in the
// index manifest.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Normalize() bool
}

// Config describes the source table and where the index lives.
type Config struct {
	DataPath     string
	TextColumn   string
	ChunkSize    int
	ChunkOverlap int
	IndexDir     string
	Archive      string // optional .zip form of IndexDir
}

// Pipeline builds the chunk index from a product table.
type Pipeline struct {
	embedder BatchEmbedder
	splitter *chunking.Splitter
	cfg      Config
	logger   *slog.Logger
}

// NewPipeline validates the chunking parameters and returns a Pipeline.
func NewPipeline(embedder BatchEmbedder, cfg Config) (*Pipeline, error) {
	splitter, err := chunking.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.IndexDir == "" {
		return nil, fmt.Errorf("%w: index directory is not set", apperr.ErrInvalidArgument)
	}
	return &Pipeline{embedder: embedder, splitter: splitter, cfg: cfg, logger: slog.Default()}, nil
}

// Build loads the source, chunks and embeds it into a staging directory, and
// publishes the result over IndexDir. On any failure the staging directory is
// removed and the existing index is left as it was.
func (p *Pipeline) Build(ctx context.Context) (*Index, error) {
	start := time.Now()

	table, err := LoadTable(p.cfg.DataPath)
	if err != nil {
		return nil, err
	}
	docs, err := ToDocuments(table, p.cfg.TextColumn)
	if err != nil {
		return nil, err
	}
	chunks := p.splitter.SplitDocuments(docs)
	p.logger.Info("source loaded",
		"path", p.cfg.DataPath,
		"rows", len(table.Rows),
		"documents", len(docs),
		"chunks", len(chunks),
	)

	records, dim, err := p.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	staging, err := storage.NewStaging(p.cfg.IndexDir)
	if err != nil {
		return nil, err
	}
	manifest := storage.Manifest{
		EmbedModel:   p.embedder.Model(),
		Normalize:    p.embedder.Normalize(),
		Dimension:    dim,
		ChunkSize:    p.splitter.Size(),
		ChunkOverlap: p.splitter.Overlap(),
		Source:       p.cfg.DataPath,
		TextColumn:   p.cfg.TextColumn,
		Rows:         len(docs),
		Chunks:       len(records),
		BuiltAt:      time.Now().UTC(),
	}
	if err := writeIndex(ctx, staging, records, manifest); err != nil {
		if derr := storage.Discard(staging); derr != nil {
			p.logger.Warn("removing staging directory", "path", staging, "error", derr)
		}
		return nil, err
	}
	if err := storage.Publish(staging, p.cfg.IndexDir); err != nil {
		storage.Discard(staging)
		return nil, err
	}

	p.logger.Info("index built",
		"dir", p.cfg.IndexDir,
		"chunks", len(records),
		"dimension", dim,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return OpenIndex(p.cfg.IndexDir, p.embedder.Model(), p.embedder.Normalize())
}

func (p *Pipeline) embed(ctx context.Context, chunks []document.Document) ([]retrieval.Record, int, error) {
	records := make([]retrieval.Record, 0, len(chunks))
	dim := 0
	for from := 0; from < len(chunks); from += embedBatchSize {
		to := min(from+embedBatchSize, len(chunks))
		texts := make([]string, to-from)
		for i, c := range chunks[from:to] {
			texts[i] = c.Content
		}

		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, 0, fmt.Errorf("embedding chunks %d-%d: %w", from, to-1, err)
		}

		for i, vec := range vecs {
			if dim == 0 {
				dim = len(vec)
			}
			if len(vec) != dim {
				return nil, 0, fmt.Errorf("embedding chunk %d: dimension %d, want %d", from+i, len(vec), dim)
			}
			c := chunks[from+i]
			records = append(records, retrieval.Record{
				ID:        chunkID(c),
				Seq:       from + i,
				Document:  c,
				Embedding: vec,
			})
		}
		p.logger.Debug("embedded batch", "done", to, "total", len(chunks))
	}
	return records, dim, nil
}

func chunkID(c document.Document) string {
	key := fmt.Sprintf("%d/%d", c.RowIndex(), c.StartIndex())
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

func writeIndex(ctx context.Context, dir string, records []retrieval.Record, m storage.Manifest) error {
	st, err := storage.Open(dir)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := retrieval.NewSQLiteStore(st.DB()).Insert(ctx, records); err != nil {
		return fmt.Errorf("writing chunks: %w", err)
	}
	if err := st.SaveManifest(m); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// BuildOrLoad opens the index at IndexDir when it exists. Otherwise it
// unpacks the configured archive when one is present, and only then falls
// back to building from the source table.
func (p *Pipeline) BuildOrLoad(ctx context.Context) (*Index, bool, error) {
	ok, err := storage.Exists(p.cfg.IndexDir)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", apperr.ErrRetrievalUnavailable, err)
	}
	if ok {
		idx, err := OpenIndex(p.cfg.IndexDir, p.embedder.Model(), p.embedder.Normalize())
		return idx, false, err
	}

	if p.cfg.Archive != "" {
		if _, err := os.Stat(p.cfg.Archive); err == nil {
			p.logger.Info("unpacking index archive", "archive", p.cfg.Archive, "dir", p.cfg.IndexDir)
			if err := storage.Unpack(p.cfg.Archive, p.cfg.IndexDir); err != nil {
				return nil, false, fmt.Errorf("%w: %w", apperr.ErrRetrievalUnavailable, err)
			}
			idx, err := OpenIndex(p.cfg.IndexDir, p.embedder.Model(), p.embedder.Normalize())
			return idx, false, err
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("checking index archive: %w", err)
		}
	}

	idx, err := p.Build(ctx)
	return idx, err == nil, err
}
