// Package services holds the process-wide resources of a running prodqa:
// each one is built on first use and shared by every later caller.
package services

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy builds a value once, on the first Get. Concurrent first callers join a
// single in-flight build. A failed build is not cached, so the next Get tries
// again.
type Lazy[T any] struct {
	build func(ctx context.Context) (T, error)
	group singleflight.Group

	mu    sync.Mutex
	val   T
	ready bool
}

// NewLazy returns a Lazy that calls build on first use.
func NewLazy[T any](build func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{build: build}
}

// Get returns the value, building it if needed. The build runs on a context
// detached from ctx's cancellation: a caller that gives up does not abort a
// build other callers are waiting on.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	if v, ok := l.Peek(); ok {
		return v, nil
	}

	ch := l.group.DoChan("build", func() (any, error) {
		if v, ok := l.Peek(); ok {
			return v, nil
		}
		v, err := l.build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.val, l.ready = v, true
		l.mu.Unlock()
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Peek returns the value without building it.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.ready
}
