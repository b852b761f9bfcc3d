package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Embedding EmbeddingConfig
	Reranker  RerankerConfig
	Generator GeneratorConfig
	Ingest    IngestConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Sessions  SessionsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // bearer token for /api; empty disables auth
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
}

type EmbeddingConfig struct {
	Normalize bool
}

type RerankerConfig struct {
	Enabled bool
	BaseURL string
	Model   string
	Timeout time.Duration
}

type GeneratorConfig struct {
	Backend       string
	Model         string
	APIKey        string
	Temperature   float64
	MaxTokens     int
	RatePerSecond float64
}

type IngestConfig struct {
	DataPath         string
	TextColumn       string
	ChunkSize        int
	ChunkOverlap     int
	EmbedConcurrency int
}

type StorageConfig struct {
	IndexDir string
	Archive  string
}

type RetrievalConfig struct {
	TopK                int
	CandidateMultiplier int
}

type SessionsConfig struct {
	Backend  string
	TTL      time.Duration
	BoltPath string
	RedisURL string
}

type LogConfig struct {
	Level string
	File  string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			ChatModel:  "mistral-nemo",
		},
		Embedding: EmbeddingConfig{
			Normalize: true,
		},
		Reranker: RerankerConfig{
			Enabled: true,
			BaseURL: "http://localhost:8080",
			Model:   "BAAI/bge-reranker-base",
			Timeout: 30 * time.Second,
		},
		Generator: GeneratorConfig{
			Backend:       "openrouter",
			Model:         "mistralai/mistral-7b-instruct",
			Temperature:   0.7,
			MaxTokens:     2000,
			RatePerSecond: 2,
		},
		Ingest: IngestConfig{
			DataPath:         "data/products.csv",
			TextColumn:       "combined_text",
			ChunkSize:        1000,
			ChunkOverlap:     150,
			EmbedConcurrency: 4,
		},
		Storage: StorageConfig{
			IndexDir: filepath.Join(dataDir, "index"),
		},
		Retrieval: RetrievalConfig{
			TopK:                4,
			CandidateMultiplier: 4,
		},
		Sessions: SessionsConfig{
			Backend:  "memory",
			TTL:      24 * time.Hour,
			BoltPath: filepath.Join(dataDir, "sessions.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in layers: defaults, then the YAML file at
// $XDG_CONFIG_HOME/prodqa/config.yaml, then PRODQA_* environment variables.
// A .env file in the working directory is loaded into the environment first
// without replacing variables that are already set.
//
// The OpenRouter key is read from the environment only
// (PRODQA_OPENROUTER_API_KEY, falling back to OPENROUTER_API_KEY).
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Generator.APIKey == "" {
		cfg.Generator.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a request.
func (c Config) Validate() error {
	var problems []string
	if c.Ingest.ChunkSize <= 0 {
		problems = append(problems, fmt.Sprintf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize))
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		problems = append(problems, fmt.Sprintf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap))
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, fmt.Sprintf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.CandidateMultiplier <= 0 {
		problems = append(problems, fmt.Sprintf("retrieval.candidate_multiplier must be positive, got %d", c.Retrieval.CandidateMultiplier))
	}
	switch c.Generator.Backend {
	case "openrouter", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("generator.backend must be openrouter or ollama, got %q", c.Generator.Backend))
	}
	switch c.Sessions.Backend {
	case "memory", "bolt", "redis":
	default:
		problems = append(problems, fmt.Sprintf("sessions.backend must be memory, bolt or redis, got %q", c.Sessions.Backend))
	}
	if c.Sessions.Backend == "redis" && c.Sessions.RedisURL == "" {
		problems = append(problems, "sessions.redis_url is required for the redis session backend")
	}
	if c.Storage.IndexDir == "" {
		problems = append(problems, "storage.index_dir is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "prodqa-data"
		}
	}
	return filepath.Join(dir, "prodqa")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "prodqa", "config.yaml")
}
