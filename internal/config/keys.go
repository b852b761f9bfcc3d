package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PRODQA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "PRODQA_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PRODQA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "PRODQA_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "PRODQA_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "embedding.normalize", typ: kBool, env: "PRODQA_EMBEDDING_NORMALIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Normalize = v.(bool) },
		extract: func(cfg Config) any { return cfg.Embedding.Normalize },
	},
	{
		key: "reranker.enabled", typ: kBool, env: "PRODQA_RERANKER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Reranker.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Reranker.Enabled },
	},
	{
		key: "reranker.base_url", typ: kString, env: "PRODQA_RERANKER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Reranker.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reranker.BaseURL },
	},
	{
		key: "reranker.model", typ: kString, env: "PRODQA_RERANKER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Reranker.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Reranker.Model },
	},
	{
		key: "reranker.timeout", typ: kDuration, env: "PRODQA_RERANKER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reranker.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reranker.Timeout },
	},
	{
		key: "generator.backend", typ: kString, env: "PRODQA_GENERATOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generator.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Backend },
	},
	{
		key: "generator.model", typ: kString, env: "PRODQA_GENERATOR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generator.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Model },
	},
	{
		key: "generator.openrouter_api_key", typ: kString, env: "PRODQA_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generator.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.APIKey },
	},
	{
		key: "generator.temperature", typ: kFloat, env: "PRODQA_GENERATOR_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generator.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generator.Temperature },
	},
	{
		key: "generator.max_tokens", typ: kInt, env: "PRODQA_GENERATOR_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generator.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generator.MaxTokens },
	},
	{
		key: "generator.rate_per_second", typ: kFloat, env: "PRODQA_GENERATOR_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Generator.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generator.RatePerSecond },
	},
	{
		key: "ingest.data_path", typ: kString, env: "PRODQA_INGEST_DATA_PATH",
		apply:   func(cfg *Config, v any) { cfg.Ingest.DataPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.DataPath },
	},
	{
		key: "ingest.text_column", typ: kString, env: "PRODQA_INGEST_TEXT_COLUMN",
		apply:   func(cfg *Config, v any) { cfg.Ingest.TextColumn = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.TextColumn },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "PRODQA_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "PRODQA_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "ingest.embed_concurrency", typ: kInt, env: "PRODQA_INGEST_EMBED_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Ingest.EmbedConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.EmbedConcurrency },
	},
	{
		key: "storage.index_dir", typ: kString, env: "PRODQA_STORAGE_INDEX_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.IndexDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.IndexDir },
	},
	{
		key: "storage.archive", typ: kString, env: "PRODQA_STORAGE_ARCHIVE",
		apply:   func(cfg *Config, v any) { cfg.Storage.Archive = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Archive },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "PRODQA_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.candidate_multiplier", typ: kInt, env: "PRODQA_RETRIEVAL_CANDIDATE_MULTIPLIER",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.CandidateMultiplier = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.CandidateMultiplier },
	},
	{
		key: "sessions.backend", typ: kString, env: "PRODQA_SESSIONS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Sessions.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Sessions.Backend },
	},
	{
		key: "sessions.ttl", typ: kDuration, env: "PRODQA_SESSIONS_TTL",
		apply:   func(cfg *Config, v any) { cfg.Sessions.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sessions.TTL },
	},
	{
		key: "sessions.bolt_path", typ: kString, env: "PRODQA_SESSIONS_BOLT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Sessions.BoltPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Sessions.BoltPath },
	},
	{
		key: "sessions.redis_url", typ: kString, env: "PRODQA_SESSIONS_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Sessions.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Sessions.RedisURL },
	},
	{
		key: "log.level", typ: kString, env: "PRODQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "PRODQA_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

// parse converts raw text to the Go type of the key.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
