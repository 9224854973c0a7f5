// Package lazy defers loading heavy dependencies until first use.
package lazy

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader produces the value on first use.
type Loader[T any] func(ctx context.Context) (T, error)

// Value loads its content on first Get. Concurrent callers share the one
// pending load; a successful result is cached, a failed one is retried by
// the next Get.
type Value[T any] struct {
	load  Loader[T]
	group singleflight.Group

	mu    sync.RWMutex
	ready bool
	value T
}

// New creates a Value that loads with load.
func New[T any](load Loader[T]) *Value[T] {
	return &Value[T]{load: load}
}

// Get returns the loaded value, loading it if needed.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if val, ok := v.Peek(); ok {
		return val, nil
	}

	ch := v.group.DoChan("load", func() (any, error) {
		if val, ok := v.Peek(); ok {
			return val, nil
		}
		// Detached so one caller's cancellation doesn't fail the others.
		val, err := v.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.value = val
		v.ready = true
		v.mu.Unlock()
		return val, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the value if it is already loaded.
func (v *Value[T]) Peek() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value, v.ready
}

// Ready reports whether the value has loaded.
func (v *Value[T]) Ready() bool {
	_, ok := v.Peek()
	return ok
}
