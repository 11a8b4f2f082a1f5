package aether

import (
	"context"
	"sync"
	"time"
)

// Cooldowns tracks per-key quiet periods after an upstream rate limit.
type Cooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewCooldowns creates a tracker. A nil now uses time.Now.
func NewCooldowns(now func() time.Time) *Cooldowns {
	if now == nil {
		now = time.Now
	}
	return &Cooldowns{until: make(map[string]time.Time), now: now}
}

// Start begins (or extends) a cooldown of d for key.
func (c *Cooldowns) Start(key string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	end := c.now().Add(d)
	if end.After(c.until[key]) {
		c.until[key] = end
	}
}

// Remaining returns how long key still has to wait, or 0.
func (c *Cooldowns) Remaining(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	end, ok := c.until[key]
	if !ok {
		return 0
	}
	left := end.Sub(c.now())
	if left <= 0 {
		delete(c.until, key)
		return 0
	}
	return left
}

// Prune forgets elapsed cooldowns.
func (c *Cooldowns) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, end := range c.until {
		if !end.After(now) {
			delete(c.until, k)
		}
	}
}

// Run prunes every interval until ctx is cancelled.
func (c *Cooldowns) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Prune()
		case <-ctx.Done():
			return
		}
	}
}

// seconds rounds d up to whole seconds for Retry-After and the UI countdown.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
