package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/prodqa/internal/config"
	"github.com/kalambet/prodqa/internal/engine"
	"github.com/kalambet/prodqa/internal/ingest"
	"github.com/kalambet/prodqa/internal/services"
	"github.com/kalambet/prodqa/internal/storage"
)

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and inspect the product index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the index from the configured product table",
	Long: `Build the index from the configured product table.

The new index replaces the existing one only after it is fully written;
a failed build leaves the previous index in place.

Examples:
  prodqa index build
  prodqa index build --data ./products.xlsx --text-column description`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logCloser, err := setup()
		if err != nil {
			return err
		}
		defer logCloser.Close()

		if data, _ := cmd.Flags().GetString("data"); data != "" {
			cfg.Ingest.DataPath = data
		}
		if col, _ := cmd.Flags().GetString("text-column"); col != "" {
			cfg.Ingest.TextColumn = col
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.Ollama.EmbedModel); err != nil {
			return err
		}

		holder := services.New(cfg, eng)
		p, err := holder.Pipeline(ctx)
		if err != nil {
			return err
		}

		printStep("Indexing %s (column %q)", cfg.Ingest.DataPath, cfg.Ingest.TextColumn)
		start := time.Now()
		idx, err := p.Build(ctx)
		if err != nil {
			return err
		}
		defer idx.Close()

		m := idx.Manifest()
		printSuccess("Indexed %d rows into %d chunks in %s", m.Rows, m.Chunks, time.Since(start).Round(time.Millisecond))
		printStatus("Index", "%s", cfg.Storage.IndexDir)
		return nil
	},
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the manifest of the current index",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		m, err := ingest.ReadManifest(cfg.Storage.IndexDir)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		}

		printStatus("Source", "%s (column %q)", m.Source, m.TextColumn)
		printStatus("Rows", "%d", m.Rows)
		printStatus("Chunks", "%d (size %d, overlap %d)", m.Chunks, m.ChunkSize, m.ChunkOverlap)
		printStatus("Embedding", "%s, %d dims, normalized=%t", m.EmbedModel, m.Dimension, m.Normalize)
		printStatus("Built", "%s", m.BuiltAt.Local().Format(time.DateTime))
		if err := m.CheckEmbedding(cfg.Ollama.EmbedModel, cfg.Embedding.Normalize); err != nil {
			printWarning("%v", err)
		}
		return nil
	},
}

var indexPackCmd = &cobra.Command{
	Use:   "pack [archive]",
	Short: "Pack the index into a zip archive for distribution",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		archive := cfg.Storage.Archive
		if len(args) == 1 {
			archive = args[0]
		}
		if archive == "" {
			return fmt.Errorf("no archive path given and storage.archive is not set")
		}
		if err := storage.Pack(cfg.Storage.IndexDir, archive); err != nil {
			return err
		}
		printSuccess("Packed %s into %s", cfg.Storage.IndexDir, archive)
		return nil
	},
}

func init() {
	indexBuildCmd.Flags().String("data", "", "product table to index (overrides ingest.data_path)")
	indexBuildCmd.Flags().String("text-column", "", "column holding the product text (overrides ingest.text_column)")
	indexInfoCmd.Flags().Bool("json", false, "print the manifest as JSON")
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexInfoCmd)
	indexCmd.AddCommand(indexPackCmd)
}

// --- search / ask ---

// hit is a retrieved document as returned by the server.
type hit struct {
	Metadata map[string]any `json:"metadata"`
	Snippet  string         `json:"snippet"`
	Score    *float32       `json:"score,omitempty"`
}

type searchResponse struct {
	Results []hit `json:"results"`
}

type turnResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Retrieved []hit  `json:"retrieved"`
}

func retrievalFlags(cmd *cobra.Command, body map[string]any) {
	if cmd.Flags().Changed("top-k") {
		k, _ := cmd.Flags().GetInt("top-k")
		body["top_k"] = k
	}
	if noRerank, _ := cmd.Flags().GetBool("no-rerank"); noRerank {
		body["use_reranker"] = false
	}
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search product descriptions without generating an answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"query": strings.Join(args, " ")}
		retrievalFlags(cmd, body)

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out searchResponse
		if err := client.call(cmd.Context(), http.MethodPost, "/api/search", body, &out); err != nil {
			return err
		}
		renderHits(os.Stdout, out.Results)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the products",
	Long: `Ask a question about the products.

Pass --session to continue a conversation; follow-up questions are
answered with the earlier turns as context.

Examples:
  prodqa ask "Which kettles hold more than 1.5 litres?"
  prodqa ask --session kitchen "Are any of them cordless?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		newSession := sessionID == ""
		if newSession {
			sessionID = uuid.NewString()
		}
		body := map[string]any{"message": strings.Join(args, " ")}
		retrievalFlags(cmd, body)

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out turnResponse
		if err := client.call(cmd.Context(), http.MethodPost, sessionPath(sessionID)+"/turns", body, &out); err != nil {
			return err
		}

		fmt.Println(out.Answer)
		if showSources, _ := cmd.Flags().GetBool("sources"); showSources {
			renderHits(os.Stdout, out.Retrieved)
		}
		if newSession {
			printStep("Continue with --session %s", sessionID)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, askCmd} {
		c.Flags().Int("top-k", 4, "number of documents to retrieve")
		c.Flags().Bool("no-rerank", false, "skip cross-encoder reranking")
	}
	askCmd.Flags().String("session", "", "conversation to continue")
	askCmd.Flags().Bool("sources", false, "print the retrieved product snippets")
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or forget stored conversations",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			Session struct {
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
				UpdatedAt time.Time `json:"updated_at"`
			} `json:"session"`
		}
		err = client.call(cmd.Context(), http.MethodGet, sessionPath(args[0]), nil, &out)
		if isNotFound(err) {
			return fmt.Errorf("no session %q; it may have expired", args[0])
		}
		if err != nil {
			return err
		}
		for _, m := range out.Session.Messages {
			fmt.Printf("%s %s\n", boldColor.Sprint(m.Role+":"), m.Content)
		}
		printStatus("Updated", "%s", out.Session.UpdatedAt.Local().Format(time.DateTime))
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Forget a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodDelete, sessionPath(args[0]), nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			printKey(k)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show the effective value of one key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		k, err := config.GetKey(cfg, args[0])
		if err != nil {
			return err
		}
		printKey(k)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a value from the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func printKey(k config.KeyInfo) {
	line := fmt.Sprintf("  %s = %s", boldColor.Sprint(k.Key), k.Value)
	if k.FromEnv {
		line += dimColor.Sprintf("  (from %s)", k.EnvVar)
	}
	fmt.Println(line)
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
