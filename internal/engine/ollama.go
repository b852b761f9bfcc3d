package engine

import (
	"context"

	"github.com/kalambet/prodqa/internal/ollama"
)

// OllamaEngine serves embeddings and chat from an Ollama server.
type OllamaEngine struct {
	client *ollama.Client
}

var _ Engine = (*OllamaEngine)(nil)

func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

// BaseURL returns the Ollama server address.
func (e *OllamaEngine) BaseURL() string { return e.client.BaseURL() }

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message(m)
	}
	return e.client.Chat(ctx, model, msgs, toOllamaOptions(opts))
}

// toOllamaOptions returns nil when opts leaves everything at the model defaults.
func toOllamaOptions(opts ChatOptions) *ollama.Options {
	if opts.Temperature == nil && opts.MaxTokens <= 0 {
		return nil
	}
	return &ollama.Options{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return e.client.Embed(ctx, model, text)
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return e.client.EmbedBatch(ctx, model, texts)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool { return e.client.IsRunning(ctx) }

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	if onProgress == nil {
		return e.client.PullModel(ctx, name, nil)
	}
	return e.client.PullModel(ctx, name, func(p ollama.PullProgress) {
		onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
	})
}
