package chat

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory. Each Load or Save restarts
// the session's TTL, so only idle sessions expire.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore that evicts sessions idle for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cleanup := ttl / 2
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &MemoryStore{cache: cache.New(ttl, cleanup), ttl: ttl}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, bool, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false, nil
	}
	s := v.(*Session)
	m.cache.Set(id, s, m.ttl)
	return s.Clone(), true, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.cache.Set(s.ID, s.Clone(), m.ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int { return m.cache.ItemCount() }

func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}
