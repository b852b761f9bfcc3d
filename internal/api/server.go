package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/chat"
	"github.com/kalambet/prodqa/internal/document"
	"github.com/kalambet/prodqa/internal/retrieval"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Conversation runs chat turns.
type Conversation interface {
	RunStateful(ctx context.Context, sessionID, userText string, opts chat.Options) (*chat.Reply, error)
	RunStateless(ctx context.Context, history []chat.Message, opts chat.Options) (*chat.Reply, error)
}

// Searcher runs retrieval without generation.
type Searcher interface {
	Retrieve(ctx context.Context, query string, k int, useReranker bool) ([]retrieval.Result, error)
}

// Resources hands out the lazily built services. Each call may build the
// resource, so handlers fetch them per request.
type Resources interface {
	Conversation(ctx context.Context) (Conversation, error)
	Searcher(ctx context.Context) (Searcher, error)
	Sessions(ctx context.Context) (chat.SessionStore, error)
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Resources   Resources
	Token       string // optional bearer token for /api routes
	DefaultTopK int
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.DefaultTopK <= 0 {
		deps.DefaultTopK = chat.DefaultTopK
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/chat", handleChat(deps))
		r.Post("/search", handleSearch(deps))
		r.Post("/sessions/{id}/turns", handleTurn(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// MessageIn is a message as sent by API clients.
type MessageIn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

// ChatRequest is a stateless turn: the client owns the history.
type ChatRequest struct {
	SessionID   string      `json:"session_id" validate:"required,max=256"`
	Messages    []MessageIn `json:"messages" validate:"required,min=1,dive"`
	TopK        *int        `json:"top_k" validate:"omitempty,min=1,max=50"`
	UseReranker *bool       `json:"use_reranker"`
}

// TurnRequest is one user message in a server-held session.
type TurnRequest struct {
	Message     string `json:"message" validate:"required"`
	TopK        *int   `json:"top_k" validate:"omitempty,min=1,max=50"`
	UseReranker *bool  `json:"use_reranker"`
}

// SearchRequest is retrieval without generation.
type SearchRequest struct {
	Query       string `json:"query" validate:"required"`
	TopK        *int   `json:"top_k" validate:"omitempty,min=1,max=50"`
	UseReranker *bool  `json:"use_reranker"`
}

// ChatResponse is the success body of a turn.
type ChatResponse struct {
	Status string `json:"status"`
	*chat.Reply
}

// SearchHit is one retrieved document.
type SearchHit struct {
	Metadata document.Metadata `json:"metadata"`
	Snippet  string            `json:"snippet"`
	Score    float32           `json:"score"`
}

// SearchResponse is the success body of a search.
type SearchResponse struct {
	Status  string      `json:"status"`
	Results []SearchHit `json:"results"`
}

// SessionResponse is a stored session snapshot.
type SessionResponse struct {
	Status  string        `json:"status"`
	Session *chat.Session `json:"session"`
}

func options(topK *int, useReranker *bool) chat.Options {
	opts := chat.Options{UseReranker: useReranker}
	if topK != nil {
		opts.TopK = *topK
	}
	return opts
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeAppError(w, r, err)
			return
		}

		history, err := toHistory(req.Messages)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		conv, err := deps.Resources.Conversation(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		reply, err := conv.RunStateless(r.Context(), history, options(req.TopK, req.UseReranker))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		reply.SessionID = req.SessionID
		writeJSON(w, http.StatusOK, ChatResponse{Status: "success", Reply: reply})
	}
}

// toHistory converts client messages and checks that the history ends with a
// non-blank user message.
func toHistory(in []MessageIn) ([]chat.Message, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: messages are empty", apperr.ErrInvalidArgument)
	}
	out := make([]chat.Message, len(in))
	hasUser := false
	for i, m := range in {
		role, err := chat.ParseRole(m.Role)
		if err != nil {
			return nil, err
		}
		out[i] = chat.Message{Role: role, Content: m.Content}
		hasUser = hasUser || role == chat.RoleUser
	}
	last := out[len(out)-1]
	switch {
	case !hasUser:
		return nil, apperr.ErrNoUserMessage
	case last.Role != chat.RoleUser:
		return nil, fmt.Errorf("%w: the last message must have role user", apperr.ErrInvalidArgument)
	case strings.TrimSpace(last.Content) == "":
		return nil, fmt.Errorf("%w: latest user message is empty", apperr.ErrInvalidArgument)
	}
	return out, nil
}

func handleTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TurnRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeAppError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		if strings.TrimSpace(id) == "" {
			writeAppError(w, r, fmt.Errorf("%w: session id is blank", apperr.ErrInvalidArgument))
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeAppError(w, r, fmt.Errorf("%w: message is blank", apperr.ErrInvalidArgument))
			return
		}

		conv, err := deps.Resources.Conversation(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		reply, err := conv.RunStateful(r.Context(), id, req.Message, options(req.TopK, req.UseReranker))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{Status: "success", Reply: reply})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeAppError(w, r, err)
			return
		}

		k := deps.DefaultTopK
		if req.TopK != nil {
			k = *req.TopK
		}
		rerank := req.UseReranker == nil || *req.UseReranker
		if strings.TrimSpace(req.Query) == "" {
			writeAppError(w, r, fmt.Errorf("%w: query is blank", apperr.ErrInvalidArgument))
			return
		}

		s, err := deps.Resources.Searcher(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		results, err := s.Retrieve(r.Context(), req.Query, k, rerank)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		hits := make([]SearchHit, len(results))
		for i, res := range results {
			hits[i] = SearchHit{Metadata: res.Document.Metadata, Snippet: res.Document.Snippet(), Score: res.Score}
		}
		writeJSON(w, http.StatusOK, SearchResponse{Status: "success", Results: hits})
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, err := deps.Resources.Sessions(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		s, ok, err := store.Load(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session %q not found", id)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{Status: "success", Session: s})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, err := deps.Resources.Sessions(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if err := store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
