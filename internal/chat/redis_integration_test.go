//go:build integration

package chat

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRedisStore_Integration(t *testing.T) {
	url := os.Getenv("PRODQA_TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	s, err := OpenRedisStore(context.Background(), url, time.Minute)
	if err != nil {
		t.Skipf("redis not reachable at %s: %v", url, err)
	}
	defer s.Close()
	exerciseStore(t, s)
}
