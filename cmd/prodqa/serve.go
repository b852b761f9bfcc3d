package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/prodqa/internal/api"
	"github.com/kalambet/prodqa/internal/chat"
	"github.com/kalambet/prodqa/internal/config"
	"github.com/kalambet/prodqa/internal/engine"
	"github.com/kalambet/prodqa/internal/ingest"
	"github.com/kalambet/prodqa/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prodqa server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show prodqa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

// requiredModels lists the models the local engine must have for cfg.
func requiredModels(cfg config.Config) []string {
	models := []string{cfg.Ollama.EmbedModel}
	if cfg.Generator.Backend == "ollama" {
		models = append(models, cfg.Ollama.ChatModel)
	}
	return models
}

// holderResources exposes the holder's lazy services to the API layer.
type holderResources struct {
	h *services.Holder
}

func (r holderResources) Conversation(ctx context.Context) (api.Conversation, error) {
	m, err := r.h.Machine(ctx)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r holderResources) Searcher(ctx context.Context) (api.Searcher, error) {
	rt, err := r.h.Retriever(ctx)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (r holderResources) Sessions(ctx context.Context) (chat.SessionStore, error) {
	return r.h.Sessions(ctx)
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "prodqa version %s\n", version)

	cfg, logCloser, err := setup()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, os.Stderr, requiredModels(cfg)...); err != nil {
		return err
	}

	holder := services.New(cfg, eng)
	defer func() {
		if err := holder.Close(); err != nil {
			slog.Warn("closing resources", "error", err)
		}
	}()
	resources := holderResources{h: holder}

	// Warm the index and the conversation stack so the first request does
	// not pay for a build. Failures are retried on first use.
	go func() {
		if _, err := holder.Machine(ctx); err != nil {
			slog.Warn("warming services failed; will retry on first request", "error", err)
		}
	}()

	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured; /api routes are unauthenticated", "env", "PRODQA_API_TOKEN")
	}

	handler := api.NewHandler(api.Deps{
		Resources:   resources,
		Token:       cfg.Server.APIToken,
		DefaultTopK: cfg.Retrieval.TopK,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Resources:   resources,
			DefaultTopK: cfg.Retrieval.TopK,
			Version:     version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "prodqa listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if engine.NewOllamaEngine(cfg.Ollama.BaseURL).IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Generator", "%s (%s)", cfg.Generator.Model, cfg.Generator.Backend)
	if cfg.Reranker.Enabled {
		printStatus("Reranker", "%s at %s", cfg.Reranker.Model, cfg.Reranker.BaseURL)
	} else {
		printStatus("Reranker", "disabled")
	}
	printStatus("Sessions", "%s (ttl %s)", cfg.Sessions.Backend, cfg.Sessions.TTL)

	m, err := ingest.ReadManifest(cfg.Storage.IndexDir)
	if err != nil {
		printStatus("Index", "not built (%s)", cfg.Storage.IndexDir)
		return nil
	}
	printStatus("Index", "%d chunks from %d rows, built %s", m.Chunks, m.Rows, m.BuiltAt.Local().Format(time.DateTime))
	if err := m.CheckEmbedding(cfg.Ollama.EmbedModel, cfg.Embedding.Normalize); err != nil {
		printWarning("%v", err)
	}
	return nil
}
