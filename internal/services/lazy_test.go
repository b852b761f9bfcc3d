package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLazy_BuildsOnceUnderConcurrency(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	l := NewLazy(func(context.Context) (*int, error) {
		builds.Add(1)
		<-release
		v := 42
		return &v, nil
	})

	const callers = 16
	results := make([]*int, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := builds.Load(); n != 1 {
		t.Errorf("built %d times, want 1", n)
	}
	for i, r := range results {
		if r != results[0] {
			t.Errorf("caller %d got a different instance", i)
		}
	}
}

func TestLazy_ErrorNotCached(t *testing.T) {
	var calls int
	l := NewLazy(func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("model server down")
		}
		return "ready", nil
	})

	if _, err := l.Get(context.Background()); err == nil {
		t.Fatal("expected first build to fail")
	}
	if _, ok := l.Peek(); ok {
		t.Error("failed build was cached")
	}

	v, err := l.Get(context.Background())
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if v != "ready" || calls != 2 {
		t.Errorf("v = %q after %d builds, want ready after 2", v, calls)
	}
}

func TestLazy_CallerCancelDoesNotAbortBuild(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var buildErr atomic.Value
	l := NewLazy(func(ctx context.Context) (int, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			buildErr.Store(err)
		}
		return 7, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Get(ctx)
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(release)
	v, err := l.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 7 {
		t.Errorf("v = %d, want 7", v)
	}
	if e := buildErr.Load(); e != nil {
		t.Errorf("build saw cancelled context: %v", e)
	}
}

func TestLazy_PeekBeforeBuild(t *testing.T) {
	l := NewLazy(func(context.Context) (int, error) { return 1, nil })
	if _, ok := l.Peek(); ok {
		t.Error("Peek reported a value before any Get")
	}
}
