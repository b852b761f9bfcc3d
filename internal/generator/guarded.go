package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/kalambet/prodqa/internal/apperr"
)

var tracer = otel.Tracer("github.com/kalambet/prodqa/internal/generator")

// Guarded rate-limits a Generator and trips a circuit breaker after repeated
// upstream failures. Every failure it returns wraps apperr.ErrGenerationFailure.
type Guarded struct {
	next    Generator
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuarded wraps next. A non-positive ratePerSecond disables rate limiting.
func NewGuarded(next Generator, ratePerSecond float64) *Guarded {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "generator",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
		// A caller giving up says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Guarded{next: next, limiter: rate.NewLimiter(limit, burst), breaker: breaker}
}

// State reports the circuit breaker state ("closed", "half-open", "open").
func (g *Guarded) State() string { return g.breaker.State().String() }

func (g *Guarded) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "generator.Generate")
	defer span.End()
	span.SetAttributes(attribute.Int("generator.prompt_chars", len(prompt)))

	fail := func(err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", apperr.ErrGenerationFailure, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return fail(fmt.Errorf("waiting for rate limiter: %w", err))
	}

	start := time.Now()
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("generator.circuit_open", true))
		}
		return fail(err)
	}

	text := result.(string)
	slog.Debug("generation complete", "chars", len(text), "duration_ms", time.Since(start).Milliseconds())
	return text, nil
}
