package generator

import (
	"context"

	"github.com/kalambet/prodqa/internal/engine"
)

// EngineGenerator answers with a chat model served by the local engine.
type EngineGenerator struct {
	engine engine.Engine
	model  string
	opts   engine.ChatOptions
}

// NewEngineGenerator creates a generator backed by eng.
func NewEngineGenerator(eng engine.Engine, model string, temperature float64, maxTokens int) *EngineGenerator {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &EngineGenerator{
		engine: eng,
		model:  model,
		opts:   engine.ChatOptions{Temperature: &temperature, MaxTokens: maxTokens},
	}
}

func (g *EngineGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.engine.Chat(ctx, g.model, []engine.Message{{Role: engine.RoleUser, Content: prompt}}, g.opts)
}
