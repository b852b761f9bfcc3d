package retrieval

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/prodqa/internal/engine"
)

const (
	defaultEmbedConcurrency = 4
	// defaultEmbedBatch is the number of texts sent per engine round trip.
	defaultEmbedBatch = 32
)

// Embedder wraps an Engine to generate text embeddings. With normalize set,
// every vector is scaled to unit length so cosine and dot product agree.
type Embedder struct {
	engine      engine.Engine
	model       string
	normalize   bool
	concurrency int
	batch       int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string, normalize bool) *Embedder {
	return &Embedder{
		engine:      e,
		model:       model,
		normalize:   normalize,
		concurrency: defaultEmbedConcurrency,
		batch:       defaultEmbedBatch,
	}
}

// WithConcurrency bounds the number of in-flight engine calls in EmbedBatch.
func (e *Embedder) WithConcurrency(n int) *Embedder {
	if n > 0 {
		e.concurrency = n
	}
	return e
}

// WithBatchSize sets how many texts go into one engine call.
func (e *Embedder) WithBatchSize(n int) *Embedder {
	if n > 0 {
		e.batch = n
	}
	return e
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string { return e.model }

// Normalize reports whether vectors are L2-normalized.
func (e *Embedder) Normalize() bool { return e.normalize }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: empty vector")
	}
	return e.finish(vec), nil
}

// EmbedBatch returns embedding vectors for texts in input order. Texts are
// sent in sub-batches, several in flight at once; the first failure cancels
// the rest and is returned. Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for lo := 0; lo < len(texts); lo += e.batch {
		hi := min(lo+e.batch, len(texts))
		g.Go(func() error {
			vecs, err := e.engine.EmbedBatch(gCtx, e.model, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", lo, hi-1, err)
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("embedding texts %d-%d: got %d vectors", lo, hi-1, len(vecs))
			}
			for i, vec := range vecs {
				if len(vec) == 0 {
					return fmt.Errorf("embedding text %d: empty vector", lo+i)
				}
				results[lo+i] = e.finish(vec)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) finish(vec []float32) []float32 {
	if !e.normalize {
		return vec
	}
	return normalizeL2(vec)
}

// normalizeL2 returns a unit-length copy of v. The zero vector is returned unchanged.
func normalizeL2(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}
