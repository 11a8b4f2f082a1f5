package aether

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 10, 28, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestCooldownsElapse(t *testing.T) {
	clock := newFakeClock()
	c := NewCooldowns(clock.Now)

	assert.Zero(t, c.Remaining("image:a"))
	c.Start("image:a", 60*time.Second)
	assert.Equal(t, 60*time.Second, c.Remaining("image:a"))
	assert.Zero(t, c.Remaining("image:b"), "cooldowns are per key")

	clock.Advance(59500 * time.Millisecond)
	assert.Equal(t, 1, seconds(c.Remaining("image:a")))

	clock.Advance(time.Second)
	assert.Zero(t, c.Remaining("image:a"))
}

func TestCooldownsNeverShorten(t *testing.T) {
	clock := newFakeClock()
	c := NewCooldowns(clock.Now)

	c.Start("chat:a", time.Minute)
	c.Start("chat:a", 10*time.Second)
	assert.Equal(t, time.Minute, c.Remaining("chat:a"))

	c.Start("chat:a", 0)
	assert.Equal(t, time.Minute, c.Remaining("chat:a"))
}

func TestCooldownsPrune(t *testing.T) {
	clock := newFakeClock()
	c := NewCooldowns(clock.Now)
	c.Start("a", time.Second)
	c.Start("b", time.Hour)

	clock.Advance(2 * time.Second)
	c.Prune()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.until, 1)
	assert.Contains(t, c.until, "b")
}

func TestSecondsRoundsUp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{30 * time.Second, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, seconds(tt.in), "seconds(%v)", tt.in)
	}
}
