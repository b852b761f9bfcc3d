package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltStore persists sessions in a bbolt file so they survive restarts.
// Sessions idle longer than the TTL are treated as absent and removed.
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

var _ SessionStore = (*BoltStore)(nil)

// OpenBoltStore opens or creates the session database at path.
func OpenBoltStore(path string, ttl time.Duration) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt session store: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &BoltStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (b *BoltStore) Load(_ context.Context, id string) (*Session, bool, error) {
	var s *Session
	var expired bool
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(sessionsBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var decoded Session
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decoding session %s: %w", id, err)
		}
		if b.ttl > 0 && b.now().Sub(decoded.UpdatedAt) > b.ttl {
			expired = true
			return nil
		}
		s = &decoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		if err := b.Delete(context.Background(), id); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return s, s != nil, nil
}

func (b *BoltStore) Save(_ context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(s.ID), raw)
	})
}

func (b *BoltStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

func (b *BoltStore) Close() error { return b.db.Close() }
