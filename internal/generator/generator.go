package generator

import (
	"context"
	"fmt"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/engine"
)

// Backend names accepted by New.
const (
	BackendOpenRouter = "openrouter"
	BackendOllama     = "ollama"
)

// Defaults for sampling when the config leaves them unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// Generator turns a fully rendered prompt into answer text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and parameterizes a Generator.
type Config struct {
	Backend       string
	Model         string
	APIKey        string
	BaseURL       string // OpenRouter API base; empty uses the public endpoint
	Temperature   float64
	MaxTokens     int
	RatePerSecond float64
}

// New builds the configured backend wrapped in a Guarded. eng is only used by
// the ollama backend and may be nil otherwise.
func New(cfg Config, eng engine.Engine) (*Guarded, error) {
	var g Generator
	switch cfg.Backend {
	case BackendOpenRouter, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: OpenRouter API key is not set (PRODQA_OPENROUTER_API_KEY or OPENROUTER_API_KEY)", apperr.ErrGenerationFailure)
		}
		c := NewOpenRouter(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens)
		if cfg.BaseURL != "" {
			c = c.WithBaseURL(cfg.BaseURL)
		}
		g = c
	case BackendOllama:
		if eng == nil {
			return nil, fmt.Errorf("%w: ollama backend needs an engine", apperr.ErrGenerationFailure)
		}
		g = NewEngineGenerator(eng, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("%w: unknown generator backend %q", apperr.ErrInvalidArgument, cfg.Backend)
	}
	return NewGuarded(g, cfg.RatePerSecond), nil
}
