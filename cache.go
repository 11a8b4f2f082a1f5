package aether

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/eringen/aether/content"
)

// ErrNotFound is returned when a requested post does not exist.
var ErrNotFound = sql.ErrNoRows

// PostCache is an in-memory cache of published blog posts with TTL.
type PostCache struct {
	mu      sync.RWMutex
	posts   []content.BlogPost
	byID    map[string]int
	fetched time.Time
	ttl     time.Duration
	store   *Store
}

// NewPostCache creates a PostCache backed by the given Store.
func NewPostCache(s *Store, ttl time.Duration) *PostCache {
	return &PostCache{store: s, ttl: ttl}
}

func (c *PostCache) valid() bool {
	return c.byID != nil && time.Since(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *PostCache) Invalidate() {
	c.mu.Lock()
	c.posts = nil
	c.byID = nil
	c.mu.Unlock()
}

func (c *PostCache) load() error {
	if c.valid() {
		return nil
	}
	posts, err := c.store.ListPosts()
	if err != nil {
		return err
	}
	byID := make(map[string]int, len(posts))
	for i, p := range posts {
		byID[p.ID] = i
	}
	c.posts = posts
	c.byID = byID
	c.fetched = time.Now()
	return nil
}

// ensureLoaded returns cached posts after ensuring the cache is fresh.
// It tries a read lock first; only takes a write lock if a reload is needed.
func (c *PostCache) ensureLoaded() ([]content.BlogPost, map[string]int, error) {
	c.mu.RLock()
	if c.valid() {
		posts, byID := c.posts, c.byID
		c.mu.RUnlock()
		return posts, byID, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(); err != nil {
		return nil, nil, err
	}
	return c.posts, c.byID, nil
}

// ListPosts returns published posts, newest first.
func (c *PostCache) ListPosts() ([]content.BlogPost, error) {
	posts, _, err := c.ensureLoaded()
	return posts, err
}

// GetPost returns a single published post by ID from the cache.
func (c *PostCache) GetPost(id string) (content.BlogPost, error) {
	posts, byID, err := c.ensureLoaded()
	if err != nil {
		return content.BlogPost{}, err
	}
	i, ok := byID[strings.TrimSpace(id)]
	if !ok {
		return content.BlogPost{}, ErrNotFound
	}
	return posts[i], nil
}

func normalizeTag(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
