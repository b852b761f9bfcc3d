package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/document"
)

// DefaultCandidateMultiplier is the stage-1 over-fetch factor used when
// reranking is enabled.
const DefaultCandidateMultiplier = 4

// minRerankHeadroom is the least number of extra candidates fetched for reranking.
const minRerankHeadroom = 8

var tracer = otel.Tracer("github.com/kalambet/prodqa/internal/retrieval")

// QueryEmbedder turns a query into a vector in the index's embedding space.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CrossEncoder scores every text against the query in one call and returns
// one score per text, in input order.
type CrossEncoder interface {
	Score(ctx context.Context, query string, texts []string) ([]float32, error)
}

// Result is a retrieved document with the score that ranked it: cosine
// similarity without reranking, the cross-encoder score with it.
type Result struct {
	Document document.Document
	Score    float32
}

// Retriever runs two-stage retrieval: vector search over the chunk store,
// then optional cross-encoder reranking of the over-fetched candidates.
type Retriever struct {
	embedder   QueryEmbedder
	store      ChunkStore
	scorer     CrossEncoder
	multiplier int
}

// NewRetriever creates a Retriever. scorer may be nil, in which case any
// reranked request fails with ErrRetrievalUnavailable.
func NewRetriever(embedder QueryEmbedder, store ChunkStore, scorer CrossEncoder, multiplier int) *Retriever {
	if multiplier <= 0 {
		multiplier = DefaultCandidateMultiplier
	}
	return &Retriever{embedder: embedder, store: store, scorer: scorer, multiplier: multiplier}
}

// InitialK returns the stage-1 candidate count for a request of size k.
func InitialK(k int, rerank bool, multiplier int) int {
	if !rerank {
		return k
	}
	return max(multiplier*k, k+minRerankHeadroom)
}

// Retrieve returns at most k documents for query, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, useReranker bool) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", apperr.ErrInvalidArgument, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", apperr.ErrInvalidArgument)
	}

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.Int("retrieval.k", k),
		attribute.Bool("retrieval.rerank", useReranker),
	))
	defer span.End()

	start := time.Now()
	results, candidates, err := r.retrieve(ctx, query, k, useReranker)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.candidates", candidates), attribute.Int("retrieval.results", len(results)))

	slog.Debug("retrieval complete",
		"k", k,
		"rerank", useReranker,
		"candidates", candidates,
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string, k int, useReranker bool) ([]Result, int, error) {
	candidates, err := r.search(ctx, query, InitialK(k, useReranker, r.multiplier))
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	if !useReranker {
		return truncate(candidates, k), len(candidates), nil
	}

	reranked, err := r.rerank(ctx, query, candidates)
	if err != nil {
		return nil, len(candidates), err
	}
	return truncate(reranked, k), len(candidates), nil
}

// search is stage 1: embed the query and take the n nearest chunks.
func (r *Retriever) search(ctx context.Context, query string, n int) ([]Result, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", apperr.ErrRetrievalUnavailable, err)
	}

	scored, err := r.store.Search(ctx, vec, n)
	if err != nil {
		return nil, fmt.Errorf("%w: searching index: %w", apperr.ErrRetrievalUnavailable, err)
	}

	out := make([]Result, len(scored))
	for i, s := range scored {
		out[i] = Result{Document: s.Document, Score: s.Score}
	}
	return out, nil
}

// rerank is stage 2: one cross-encoder call over the full candidate batch,
// then a stable sort by the new score.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []Result) ([]Result, error) {
	if r.scorer == nil {
		return nil, fmt.Errorf("%w: reranking requested but no cross-encoder is configured", apperr.ErrRetrievalUnavailable)
	}

	ctx, span := tracer.Start(ctx, "retrieval.rerank", trace.WithAttributes(attribute.Int("rerank.batch", len(candidates))))
	defer span.End()

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Document.Content
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: reranking: %w", apperr.ErrRetrievalUnavailable, err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: reranker returned %d scores for %d candidates", apperr.ErrRetrievalUnavailable, len(scores), len(candidates))
	}

	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{Document: c.Document, Score: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func truncate(results []Result, k int) []Result {
	if len(results) > k {
		return results[:k]
	}
	return results
}
