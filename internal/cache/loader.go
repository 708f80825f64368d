package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// ReadThrough serves values from a Cache and loads misses from the source.
// Concurrent misses for the same key share a single load.
type ReadThrough[T any] struct {
	cache Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewReadThrough wraps c with a loader cache using ttl for stored entries
func NewReadThrough[T any](c Cache, ttl time.Duration) *ReadThrough[T] {
	if c == nil {
		c = Nop{}
	}
	return &ReadThrough[T]{cache: c, ttl: ttl}
}

// Get returns the cached value for key or calls load and stores its result.
// Cache read and write failures fall back to load and are otherwise ignored.
// A caller whose ctx ends stops waiting; the shared load keeps running for the others.
func (r *ReadThrough[T]) Get(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	if found, err := r.cache.Get(ctx, key, &cached); err == nil && found {
		return cached, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		_ = r.cache.Set(loadCtx, key, v, r.ttl)
		return v, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Invalidate drops keys from the underlying cache
func (r *ReadThrough[T]) Invalidate(ctx context.Context, keys ...string) error {
	return r.cache.Invalidate(ctx, keys...)
}
