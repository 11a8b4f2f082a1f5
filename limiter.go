package aether

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Limiter counts attempts per key inside a sliding window. It guards the
// admin login and newsletter form, keyed by client IP.
type Limiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	max      int
	window   time.Duration
	now      func() time.Time
}

// NewLimiter allows max attempts per key per window. A nil now uses
// time.Now. Call Run to drop idle keys in the background.
func NewLimiter(max int, window time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		attempts: make(map[string][]time.Time),
		max:      max,
		window:   window,
		now:      now,
	}
}

// Run prunes expired attempts every window until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.prune()
		case <-ctx.Done():
			return
		}
	}
}

func (l *Limiter) prune() {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.attempts {
		l.expire(key, cutoff)
	}
}

// expire drops attempts older than cutoff and reports how many remain.
// Keys with no attempts left are removed. Callers hold l.mu.
func (l *Limiter) expire(key string, cutoff time.Time) int {
	hits := slices.DeleteFunc(l.attempts[key], func(t time.Time) bool {
		return !t.After(cutoff)
	})
	if len(hits) == 0 {
		delete(l.attempts, key)
		return 0
	}
	l.attempts[key] = hits
	return len(hits)
}

// Allow records an attempt for key unless the limit is already reached.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expire(key, now.Add(-l.window)) >= l.max {
		return false
	}
	l.attempts[key] = append(l.attempts[key], now)
	return true
}

// Remaining is how long until key may try again; zero when it may now.
func (l *Limiter) Remaining(key string) time.Duration {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expire(key, now.Add(-l.window)) < l.max {
		return 0
	}
	return l.attempts[key][0].Add(l.window).Sub(now)
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}
