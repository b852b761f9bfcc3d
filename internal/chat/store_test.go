package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/document"
)

func sampleSession(id string) *Session {
	return &Session{
		ID:            id,
		Messages:      []Message{User("price?"), Assistant("$20")},
		LastRetrieved: []Retrieved{{Metadata: document.Metadata{document.KeyRowIndex: 3}, Snippet: "Widget $20"}},
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

// exerciseStore runs the SessionStore contract against s.
func exerciseStore(t *testing.T, s SessionStore) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := s.Load(ctx, "missing"); err != nil || found {
		t.Fatalf("Load(missing) = found=%v err=%v", found, err)
	}

	in := sampleSession("s1")
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	in.Messages[0].Content = "mutated after save"

	got, found, err := s.Load(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if len(got.Messages) != 2 || got.Messages[0] != User("price?") || got.Messages[1].Role != RoleAssistant {
		t.Errorf("messages = %+v", got.Messages)
	}
	if len(got.LastRetrieved) != 1 || got.LastRetrieved[0].Snippet != "Widget $20" {
		t.Errorf("last_retrieved = %+v", got.LastRetrieved)
	}
	if row, ok := got.LastRetrieved[0].Metadata.Int(document.KeyRowIndex); !ok || row != 3 {
		t.Errorf("row_index = %d, %v; want 3", row, ok)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := s.Load(ctx, "s1"); found {
		t.Error("session still present after Delete")
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete(absent) = %v, want nil", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStore_Expires(t *testing.T) {
	s := NewMemoryStore(30 * time.Millisecond)
	defer s.Close()

	s.Save(context.Background(), sampleSession("s"))
	time.Sleep(60 * time.Millisecond)
	if _, found, _ := s.Load(context.Background(), "s"); found {
		t.Error("idle session did not expire")
	}
}

func TestMemoryStore_LoadSlidesTTL(t *testing.T) {
	s := NewMemoryStore(80 * time.Millisecond)
	defer s.Close()

	s.Save(context.Background(), sampleSession("s"))
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		if _, found, _ := s.Load(context.Background(), "s"); !found {
			t.Fatalf("active session expired after %d reads", i)
		}
	}
}

func TestBoltStore(t *testing.T) {
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "nested", "sessions.db"), time.Hour)
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := OpenBoltStore(path, time.Hour)
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	if err := s.Save(context.Background(), sampleSession("keep")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	s, err = OpenBoltStore(path, time.Hour)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, found, err := s.Load(context.Background(), "keep"); err != nil || !found {
		t.Errorf("Load after reopen: found=%v err=%v", found, err)
	}
}

func TestBoltStore_ExpiredTreatedAsAbsent(t *testing.T) {
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "sessions.db"), time.Hour)
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	defer s.Close()

	old := sampleSession("old")
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	s.Save(context.Background(), old)

	if _, found, err := s.Load(context.Background(), "old"); err != nil || found {
		t.Errorf("Load(expired) = found=%v err=%v, want absent", found, err)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, StoreConfig{})
	if err != nil {
		t.Fatalf("OpenStore(default): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("default backend = %T, want *MemoryStore", s)
	}
	s.Close()

	s, err = OpenStore(ctx, StoreConfig{Backend: BackendBolt, BoltPath: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("OpenStore(bolt): %v", err)
	}
	if _, ok := s.(*BoltStore); !ok {
		t.Errorf("bolt backend = %T", s)
	}
	s.Close()

	if _, err := OpenStore(ctx, StoreConfig{Backend: BackendBolt}); err == nil {
		t.Error("expected error for bolt without a path")
	}
	if _, err := OpenStore(ctx, StoreConfig{Backend: "etcd"}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("unknown backend err = %v, want ErrInvalidArgument", err)
	}
}
