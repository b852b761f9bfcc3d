package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/prodqa/internal/chat"
	"github.com/kalambet/prodqa/internal/composer"
	"github.com/kalambet/prodqa/internal/config"
	"github.com/kalambet/prodqa/internal/engine"
	"github.com/kalambet/prodqa/internal/generator"
	"github.com/kalambet/prodqa/internal/ingest"
	"github.com/kalambet/prodqa/internal/reranking"
	"github.com/kalambet/prodqa/internal/retrieval"
)

// Holder owns the shared resources. Build it once in main and pass it down.
type Holder struct {
	cfg    config.Config
	engine engine.Engine

	embedder  *Lazy[*retrieval.Embedder]
	scorer    *Lazy[reranking.Scorer]
	index     *Lazy[*ingest.Index]
	generator *Lazy[*generator.Guarded]
	sessions  *Lazy[chat.SessionStore]
	retriever *Lazy[*retrieval.Retriever]
	machine   *Lazy[*chat.Machine]
}

// New wires the lazy resources. Nothing is built until first requested.
func New(cfg config.Config, eng engine.Engine) *Holder {
	h := &Holder{cfg: cfg, engine: eng}

	h.embedder = NewLazy(func(context.Context) (*retrieval.Embedder, error) {
		return retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel, cfg.Embedding.Normalize).
			WithConcurrency(cfg.Ingest.EmbedConcurrency), nil
	})

	h.scorer = NewLazy(func(context.Context) (reranking.Scorer, error) {
		s := reranking.New(reranking.Config{
			Enabled: cfg.Reranker.Enabled,
			BaseURL: cfg.Reranker.BaseURL,
			Model:   cfg.Reranker.Model,
			Timeout: cfg.Reranker.Timeout,
		})
		slog.Info("reranker ready", "enabled", cfg.Reranker.Enabled, "model", cfg.Reranker.Model)
		return s, nil
	})

	h.index = NewLazy(func(ctx context.Context) (*ingest.Index, error) {
		p, err := h.Pipeline(ctx)
		if err != nil {
			return nil, err
		}
		idx, built, err := p.BuildOrLoad(ctx)
		if err != nil {
			return nil, err
		}
		m := idx.Manifest()
		slog.Info("index ready", "dir", cfg.Storage.IndexDir, "built", built, "chunks", m.Chunks, "embed_model", m.EmbedModel)
		return idx, nil
	})

	h.generator = NewLazy(func(context.Context) (*generator.Guarded, error) {
		return generator.New(generator.Config{
			Backend:       cfg.Generator.Backend,
			Model:         cfg.Generator.Model,
			APIKey:        cfg.Generator.APIKey,
			Temperature:   cfg.Generator.Temperature,
			MaxTokens:     cfg.Generator.MaxTokens,
			RatePerSecond: cfg.Generator.RatePerSecond,
		}, eng)
	})

	h.sessions = NewLazy(func(ctx context.Context) (chat.SessionStore, error) {
		return chat.OpenStore(ctx, chat.StoreConfig{
			Backend:  cfg.Sessions.Backend,
			TTL:      cfg.Sessions.TTL,
			BoltPath: cfg.Sessions.BoltPath,
			RedisURL: cfg.Sessions.RedisURL,
		})
	})

	h.retriever = NewLazy(func(ctx context.Context) (*retrieval.Retriever, error) {
		emb, err := h.embedder.Get(ctx)
		if err != nil {
			return nil, err
		}
		idx, err := h.index.Get(ctx)
		if err != nil {
			return nil, err
		}
		sc, err := h.scorer.Get(ctx)
		if err != nil {
			return nil, err
		}
		return retrieval.NewRetriever(emb, idx.Chunks(), sc, cfg.Retrieval.CandidateMultiplier), nil
	})

	h.machine = NewLazy(func(ctx context.Context) (*chat.Machine, error) {
		r, err := h.retriever.Get(ctx)
		if err != nil {
			return nil, err
		}
		g, err := h.generator.Get(ctx)
		if err != nil {
			return nil, err
		}
		st, err := h.sessions.Get(ctx)
		if err != nil {
			return nil, err
		}
		return chat.NewMachine(r, g, composer.New(0), st, chat.Config{
			TopK:        cfg.Retrieval.TopK,
			UseReranker: true,
		}), nil
	})

	return h
}

// Config returns the configuration the holder was built with.
func (h *Holder) Config() config.Config { return h.cfg }

// Engine returns the local model server client.
func (h *Holder) Engine() engine.Engine { return h.engine }

// Pipeline returns an ingestion pipeline over the configured source and index.
func (h *Holder) Pipeline(ctx context.Context) (*ingest.Pipeline, error) {
	emb, err := h.embedder.Get(ctx)
	if err != nil {
		return nil, err
	}
	return ingest.NewPipeline(emb, ingest.Config{
		DataPath:     h.cfg.Ingest.DataPath,
		TextColumn:   h.cfg.Ingest.TextColumn,
		ChunkSize:    h.cfg.Ingest.ChunkSize,
		ChunkOverlap: h.cfg.Ingest.ChunkOverlap,
		IndexDir:     h.cfg.Storage.IndexDir,
		Archive:      h.cfg.Storage.Archive,
	})
}

func (h *Holder) Embedder(ctx context.Context) (*retrieval.Embedder, error) {
	return h.embedder.Get(ctx)
}

func (h *Holder) Scorer(ctx context.Context) (reranking.Scorer, error) {
	return h.scorer.Get(ctx)
}

// Index builds or loads the chunk index on first call.
func (h *Holder) Index(ctx context.Context) (*ingest.Index, error) {
	return h.index.Get(ctx)
}

func (h *Holder) Generator(ctx context.Context) (*generator.Guarded, error) {
	return h.generator.Get(ctx)
}

func (h *Holder) Sessions(ctx context.Context) (chat.SessionStore, error) {
	return h.sessions.Get(ctx)
}

func (h *Holder) Retriever(ctx context.Context) (*retrieval.Retriever, error) {
	return h.retriever.Get(ctx)
}

func (h *Holder) Machine(ctx context.Context) (*chat.Machine, error) {
	return h.machine.Get(ctx)
}

// Close releases the resources that were built.
func (h *Holder) Close() error {
	var errs []error
	if idx, ok := h.index.Peek(); ok {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing index: %w", err))
		}
	}
	if st, ok := h.sessions.Peek(); ok {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session store: %w", err))
		}
	}
	return errors.Join(errs...)
}
