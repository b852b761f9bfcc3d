package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/chat"
	"github.com/kalambet/prodqa/internal/config"
	"github.com/kalambet/prodqa/internal/engine"
)

// fakeEngine embeds by letter counts and answers with a fixed string.
type fakeEngine struct {
	embeds atomic.Int32
	prompt atomic.Value
}

func (f *fakeEngine) Chat(_ context.Context, _ string, msgs []engine.Message, _ engine.ChatOptions) (string, error) {
	f.prompt.Store(msgs[len(msgs)-1].Content)
	return "The kettle holds 1.7 litres.", nil
}

func (f *fakeEngine) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	f.embeds.Add(1)
	lower := strings.ToLower(text)
	return []float32{
		float32(strings.Count(lower, "kettle")) + 0.1,
		float32(strings.Count(lower, "toaster")) + 0.1,
		float32(strings.Count(lower, "lamp")) + 0.1,
	}, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = f.Embed(ctx, model, text)
	}
	return out, nil
}

func (f *fakeEngine) IsRunning(context.Context) bool                { return true }
func (f *fakeEngine) ListModels(context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) HasModel(context.Context, string) bool        { return true }
func (f *fakeEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

// teiServer scores each text by how often it mentions "kettle".
func teiServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string   `json:"query"`
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type entry struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		}
		out := make([]entry, len(req.Texts))
		for i, text := range req.Texts {
			out[i] = entry{Index: i, Score: float64(strings.Count(strings.ToLower(text), "kettle"))}
		}
		json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, rerankURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "products.csv")
	csv := "name,combined_text\n" +
		"Kettle,Electric kettle with a 1.7 litre capacity. The kettle switches off automatically.\n" +
		"Toaster,Two-slot toaster with six browning levels.\n" +
		"Lamp,Desk lamp with a flexible arm.\n"
	if err := os.WriteFile(data, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	return config.Config{
		Ollama:    config.OllamaConfig{EmbedModel: "fake-embed", ChatModel: "fake-chat"},
		Embedding: config.EmbeddingConfig{Normalize: true},
		Reranker: config.RerankerConfig{
			Enabled: rerankURL != "",
			BaseURL: rerankURL,
			Model:   "fake-reranker",
			Timeout: 5 * time.Second,
		},
		Generator: config.GeneratorConfig{Backend: "ollama", Model: "fake-chat", Temperature: 0.7, MaxTokens: 200},
		Ingest: config.IngestConfig{
			DataPath:         data,
			TextColumn:       "combined_text",
			ChunkSize:        200,
			ChunkOverlap:     20,
			EmbedConcurrency: 2,
		},
		Storage:   config.StorageConfig{IndexDir: filepath.Join(dir, "index")},
		Retrieval: config.RetrievalConfig{TopK: 2, CandidateMultiplier: 4},
		Sessions:  config.SessionsConfig{Backend: "memory", TTL: time.Hour},
	}
}

func TestHolder_EndToEnd(t *testing.T) {
	eng := &fakeEngine{}
	h := New(testConfig(t, teiServer(t).URL), eng)
	t.Cleanup(func() { h.Close() })
	ctx := context.Background()

	m, err := h.Machine(ctx)
	if err != nil {
		t.Fatalf("Machine: %v", err)
	}
	again, err := h.Machine(ctx)
	if err != nil || again != m {
		t.Fatalf("second Machine call returned a different instance (err=%v)", err)
	}

	reply, err := m.RunStateful(ctx, "s1", "How big is the kettle?", chat.Options{})
	if err != nil {
		t.Fatalf("RunStateful: %v", err)
	}
	if reply.Answer != "The kettle holds 1.7 litres." {
		t.Errorf("answer = %q", reply.Answer)
	}
	if len(reply.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(reply.Messages))
	}
	if len(reply.Retrieved) == 0 || !strings.Contains(reply.Retrieved[0].Snippet, "kettle") {
		t.Errorf("top retrieved = %+v, want the kettle row", reply.Retrieved)
	}
	prompt, _ := eng.prompt.Load().(string)
	if !strings.Contains(prompt, "1.7 litre") || !strings.Contains(prompt, "How big is the kettle?") {
		t.Errorf("prompt missing context or question: %q", prompt)
	}
}

func TestHolder_IndexLoadedOnce(t *testing.T) {
	eng := &fakeEngine{}
	cfg := testConfig(t, "")
	h := New(cfg, eng)
	ctx := context.Background()

	if _, err := h.Index(ctx); err != nil {
		t.Fatalf("Index: %v", err)
	}
	embeds := eng.embeds.Load()
	if _, err := h.Index(ctx); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if eng.embeds.Load() != embeds {
		t.Error("second Index call re-embedded the corpus")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh holder loads the published index instead of rebuilding.
	h2 := New(cfg, eng)
	defer h2.Close()
	if _, err := h2.Index(ctx); err != nil {
		t.Fatalf("Index on fresh holder: %v", err)
	}
	if eng.embeds.Load() != embeds {
		t.Error("fresh holder rebuilt an existing index")
	}
}

func TestHolder_RerankWithoutScorerFailsLoudly(t *testing.T) {
	h := New(testConfig(t, ""), &fakeEngine{})
	defer h.Close()
	ctx := context.Background()

	m, err := h.Machine(ctx)
	if err != nil {
		t.Fatalf("Machine: %v", err)
	}
	_, err = m.RunStateless(ctx, []chat.Message{chat.User("kettle?")}, chat.Options{})
	if !errors.Is(err, apperr.ErrRetrievalUnavailable) {
		t.Errorf("err = %v, want ErrRetrievalUnavailable", err)
	}

	off := false
	if _, err := m.RunStateless(ctx, []chat.Message{chat.User("kettle?")}, chat.Options{UseReranker: &off}); err != nil {
		t.Errorf("RunStateless without reranking: %v", err)
	}
}

func TestHolder_GeneratorErrorRetried(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Generator.Backend = "openrouter"
	h := New(cfg, &fakeEngine{})
	defer h.Close()

	if _, err := h.Generator(context.Background()); !errors.Is(err, apperr.ErrGenerationFailure) {
		t.Fatalf("err = %v, want ErrGenerationFailure for missing key", err)
	}
	if _, ok := h.generator.Peek(); ok {
		t.Error("failed generator construction was cached")
	}
}
