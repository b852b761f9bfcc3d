// Package engine abstracts the local model server. Embeddings always come
// from it; chat completions only when the generator backend is "ollama".
package engine

import "context"

// Engine is the model server as seen by the embedder, the engine-backed
// generator and the startup checks.
type Engine interface {
	// Chat sends messages to model and returns the assistant's reply.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// EmbedBatch embeds texts in one round trip, returning vectors in input order.
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)

	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. onProgress may be nil.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
