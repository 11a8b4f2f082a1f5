package aether

import (
	"context"
	"sync"
	"time"
)

// Registry holds one value per visitor session and drops values that have
// not been touched for ttl.
type Registry[T any] struct {
	mu      sync.Mutex
	items   map[string]*registryEntry[T]
	ttl     time.Duration
	create  func() T
	onEvict func(id string, v T)
	now     func() time.Time
}

type registryEntry[T any] struct {
	value T
	seen  time.Time
}

// NewRegistry creates a registry that builds missing values with create.
func NewRegistry[T any](ttl time.Duration, create func() T, now func() time.Time) *Registry[T] {
	if now == nil {
		now = time.Now
	}
	return &Registry[T]{
		items:  make(map[string]*registryEntry[T]),
		ttl:    ttl,
		create: create,
		now:    now,
	}
}

// OnEvict registers fn to be called, outside the lock, for every value
// removed by Sweep.
func (r *Registry[T]) OnEvict(fn func(id string, v T)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// Get returns the value for id, creating it if needed, and marks it used.
func (r *Registry[T]) Get(id string) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		e = &registryEntry[T]{value: r.create()}
		r.items[id] = e
	}
	e.seen = r.now()
	return e.value
}

// Peek returns the value for id without creating or touching it.
func (r *Registry[T]) Peek(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Len returns the number of live values.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Sweep removes values idle for longer than ttl and returns how many went.
func (r *Registry[T]) Sweep() int {
	type evicted struct {
		id string
		v  T
	}
	r.mu.Lock()
	cutoff := r.now().Add(-r.ttl)
	var gone []evicted
	for id, e := range r.items {
		if e.seen.Before(cutoff) {
			gone = append(gone, evicted{id, e.value})
			delete(r.items, id)
		}
	}
	fn := r.onEvict
	r.mu.Unlock()

	if fn != nil {
		for _, g := range gone {
			fn(g.id, g.v)
		}
	}
	return len(gone)
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry[T]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
