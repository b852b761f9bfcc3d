package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/composer"
	"github.com/kalambet/prodqa/internal/document"
	"github.com/kalambet/prodqa/internal/retrieval"
)

// NoResultsAnswer is the reply when retrieval finds nothing.
const NoResultsAnswer = "I couldn't find anything relevant in the product database."

// DefaultTopK is the number of documents retrieved per turn.
const DefaultTopK = 4

var tracer = otel.Tracer("github.com/kalambet/prodqa/internal/chat")

// Retriever is the slice of retrieval.Retriever the machine uses.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, useReranker bool) ([]retrieval.Result, error)
}

// Generator produces answer text from a rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tune a single turn. Zero values select the machine defaults.
type Options struct {
	TopK        int
	UseReranker *bool
}

// Config holds the per-turn defaults.
type Config struct {
	TopK        int
	UseReranker bool
}

// Machine runs conversation turns: retrieve context for the latest user
// message, generate an answer, and append it to the history.
type Machine struct {
	retriever Retriever
	generator Generator
	composer  *composer.Composer
	store     SessionStore
	locks     *keyedMutex
	cfg       Config
	now       func() time.Time
}

// NewMachine creates a Machine. store is only used by RunStateful and may be
// nil for callers that only run stateless turns.
func NewMachine(r Retriever, g Generator, c *composer.Composer, store SessionStore, cfg Config) *Machine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if c == nil {
		c = composer.New(0)
	}
	return &Machine{
		retriever: r,
		generator: g,
		composer:  c,
		store:     store,
		locks:     newKeyedMutex(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Store returns the session store backing stateful turns.
func (m *Machine) Store() SessionStore { return m.store }

// RunStateful appends userText to the session's history, answers it, and
// stores the result. Turns on the same session are serialized. The snapshot
// is only written after a successful turn; a failed or cancelled turn leaves
// it exactly as it was.
func (m *Machine) RunStateful(ctx context.Context, sessionID, userText string, opts Options) (*Reply, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session_id is required", apperr.ErrInvalidArgument)
	}
	if strings.TrimSpace(userText) == "" {
		return nil, fmt.Errorf("%w: message is empty", apperr.ErrInvalidArgument)
	}
	k, rerank, err := m.resolve(opts)
	if err != nil {
		return nil, err
	}
	if m.store == nil {
		return nil, fmt.Errorf("stateful turn: no session store configured")
	}

	ctx, span := tracer.Start(ctx, "chat.RunStateful", trace.WithAttributes(attribute.String("chat.session_id", sessionID)))
	defer span.End()

	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("waiting for session %q: %w", sessionID, err))
	}
	defer unlock()

	session, found, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("loading session: %w", err))
	}
	if !found {
		session = &Session{ID: sessionID}
	}

	working := session.Clone()
	working.Messages = append(working.Messages, User(userText))

	answer, retrieved, err := m.turn(ctx, working.Messages, k, rerank)
	if err != nil {
		return nil, endSpan(span, err)
	}

	working.Messages = append(working.Messages, Assistant(answer))
	working.LastRetrieved = retrieved
	working.UpdatedAt = m.now()

	if err := m.store.Save(ctx, working); err != nil {
		return nil, endSpan(span, fmt.Errorf("saving session: %w", err))
	}

	slog.Debug("stateful turn committed", "session", sessionID, "messages", len(working.Messages), "retrieved", len(retrieved))
	return &Reply{
		SessionID: sessionID,
		Answer:    answer,
		Messages:  working.Messages,
		Retrieved: retrieved,
	}, nil
}

// RunStateless answers the most recent user message in history without
// reading or writing any stored session. The returned history is the input
// with the assistant reply appended; the input slice is not modified.
func (m *Machine) RunStateless(ctx context.Context, history []Message, opts Options) (*Reply, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: message history is empty", apperr.ErrInvalidArgument)
	}
	for i, msg := range history {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("%w: message %d has no valid role", apperr.ErrInvalidArgument, i)
		}
	}
	k, rerank, err := m.resolve(opts)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "chat.RunStateless", trace.WithAttributes(attribute.Int("chat.history", len(history))))
	defer span.End()

	answer, retrieved, err := m.turn(ctx, history, k, rerank)
	if err != nil {
		return nil, endSpan(span, err)
	}

	out := make([]Message, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, Assistant(answer))
	return &Reply{Answer: answer, Messages: out, Retrieved: retrieved}, nil
}

func (m *Machine) resolve(opts Options) (int, bool, error) {
	k := m.cfg.TopK
	if opts.TopK < 0 {
		return 0, false, fmt.Errorf("%w: top_k must be positive, got %d", apperr.ErrInvalidArgument, opts.TopK)
	}
	if opts.TopK > 0 {
		k = opts.TopK
	}
	rerank := m.cfg.UseReranker
	if opts.UseReranker != nil {
		rerank = *opts.UseReranker
	}
	return k, rerank, nil
}

// turn is the step shared by both modes. It never mutates history.
func (m *Machine) turn(ctx context.Context, history []Message, k int, rerank bool) (string, []Retrieved, error) {
	query, err := lastUserMessage(history)
	if err != nil {
		return "", nil, err
	}

	results, err := m.retriever.Retrieve(ctx, query, k, rerank)
	if err != nil {
		return "", nil, err
	}
	if len(results) == 0 {
		return NoResultsAnswer, []Retrieved{}, nil
	}

	docs := make([]document.Document, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}
	// Only documents that made it into the prompt are reported as sources.
	if n := m.composer.Fit(docs); n < len(docs) {
		slog.Debug("context budget reached", "retrieved", len(docs), "used", n)
		docs = docs[:n]
	}
	retrieved := make([]Retrieved, len(docs))
	for i, d := range docs {
		retrieved[i] = Retrieved{Metadata: d.Metadata.Clone(), Snippet: d.Snippet()}
	}

	answer, err := m.generator.Generate(ctx, m.composer.Compose(docs, query))
	if err != nil {
		if errors.Is(err, apperr.ErrGenerationFailure) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("%w: %w", apperr.ErrGenerationFailure, err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", nil, fmt.Errorf("%w: generator returned an empty answer", apperr.ErrGenerationFailure)
	}

	// A reply that arrives after the caller gave up is not committed.
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return answer, retrieved, nil
}

// lastUserMessage scans history backward for the newest user message.
func lastUserMessage(history []Message) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != RoleUser {
			continue
		}
		if strings.TrimSpace(history[i].Content) == "" {
			return "", fmt.Errorf("%w: latest user message is empty", apperr.ErrInvalidArgument)
		}
		return history[i].Content, nil
	}
	return "", apperr.ErrNoUserMessage
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
