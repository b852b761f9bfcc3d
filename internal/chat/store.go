package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/prodqa/internal/apperr"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 24 * time.Hour

// SessionStore persists session snapshots keyed by session id.
type SessionStore interface {
	// Load returns a copy of the snapshot, or (nil, false, nil) when absent.
	Load(ctx context.Context, id string) (*Session, bool, error)
	// Save replaces the snapshot for s.ID.
	Save(ctx context.Context, s *Session) error
	// Delete removes the snapshot; deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Store backends accepted by OpenStore.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// StoreConfig selects a SessionStore.
type StoreConfig struct {
	Backend  string
	TTL      time.Duration
	BoltPath string
	RedisURL string
}

// OpenStore opens the configured session store.
func OpenStore(ctx context.Context, cfg StoreConfig) (SessionStore, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(ttl), nil
	case BackendBolt:
		return OpenBoltStore(cfg.BoltPath, ttl)
	case BackendRedis:
		return OpenRedisStore(ctx, cfg.RedisURL, ttl)
	default:
		return nil, fmt.Errorf("%w: unknown session backend %q", apperr.ErrInvalidArgument, cfg.Backend)
	}
}
