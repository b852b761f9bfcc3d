package reranking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one batched scoring call.
const DefaultTimeout = 30 * time.Second

// ErrDisabled is returned by the Disabled scorer.
var ErrDisabled = errors.New("reranker is not configured")

// Scorer scores every text against the query in one call and returns one
// score per text, in input order. Higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float32, error)
}

// Config selects and configures a Scorer.
type Config struct {
	Enabled bool
	BaseURL string
	Model   string
	Timeout time.Duration
}

// New returns a TEIScorer if enabled, Disabled otherwise.
func New(cfg Config) Scorer {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return Disabled{}
	}
	return NewTEIScorer(cfg.BaseURL, cfg.Model, cfg.Timeout)
}

// TEIScorer calls a cross-encoder served behind a text-embeddings-inference
// compatible POST /rerank endpoint.
type TEIScorer struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewTEIScorer creates a TEIScorer. A non-positive timeout uses DefaultTimeout.
func NewTEIScorer(baseURL, model string, timeout time.Duration) *TEIScorer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TEIScorer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Model returns the cross-encoder model name the server is expected to host.
func (s *TEIScorer) Model() string { return s.model }

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankEntry struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Score sends all texts in a single request. Any missing or out-of-range
// index in the response is an error; scores are never guessed.
func (s *TEIScorer) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, RawScores: true, Truncate: true})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rerank: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var entries []rerankEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	scores, err := inInputOrder(entries, len(texts))
	if err != nil {
		return nil, err
	}

	slog.Debug("rerank scored",
		"model", s.model,
		"texts", len(texts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return scores, nil
}

// inInputOrder maps index-tagged entries back to a slice aligned with the
// request texts.
func inInputOrder(entries []rerankEntry, n int) ([]float32, error) {
	scores := make([]float32, n)
	seen := make([]bool, n)
	for _, e := range entries {
		if e.Index < 0 || e.Index >= n {
			return nil, fmt.Errorf("rerank: index %d out of range for %d texts", e.Index, n)
		}
		if seen[e.Index] {
			return nil, fmt.Errorf("rerank: duplicate index %d", e.Index)
		}
		seen[e.Index] = true
		scores[e.Index] = e.Score
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank: no score for text %d", i)
		}
	}
	return scores, nil
}

// Disabled is the Scorer used when no cross-encoder is configured. Every
// call fails so that reranked requests surface the misconfiguration.
type Disabled struct{}

func (Disabled) Score(_ context.Context, _ string, _ []string) ([]float32, error) {
	return nil, ErrDisabled
}
