package cache

import (
	"context"
	"sync"
	"time"
)

// entry holds one cached payload together with the fingerprint metadata
// needed for scope invalidation.
type entry struct {
	payload     []byte
	fingerprint Fingerprint
	cachedAt    time.Time
	expiresAt   time.Time
}

// Memory is an in-process TTL cache with bounded size. Expired entries are
// dropped lazily on read and by a periodic sweep; when full, the oldest
// entry is evicted.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry

	maxSize   int
	hitCount  int64
	missCount int64

	now      func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemory creates a memory cache holding at most maxSize entries.
func NewMemory(maxSize int) *Memory {
	c := &Memory{
		entries: make(map[string]entry),
		maxSize: maxSize,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get retrieves a cached payload. Expired entries are treated as absent and
// removed.
func (c *Memory) Get(_ context.Context, f Fingerprint) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[f.String()]
	if !ok {
		c.missCount++
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, f.String())
		c.missCount++
		return nil, false, nil
	}

	c.hitCount++
	return e.payload, true, nil
}

// Put stores a payload. A zero maxSize disables storage entirely.
func (c *Memory) Put(_ context.Context, f Fingerprint, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return nil
	}
	if _, exists := c.entries[f.String()]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.now()
	c.entries[f.String()] = entry{
		payload:     payload,
		fingerprint: f,
		cachedAt:    now,
		expiresAt:   now.Add(ttl),
	}
	return nil
}

// Invalidate removes every entry within the scope.
func (c *Memory) Invalidate(_ context.Context, scope Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if scope.Matches(e.fingerprint) {
			delete(c.entries, key)
		}
	}
	return nil
}

// InvalidateFunc removes every entry whose fingerprint matches the
// predicate. More general than Invalidate; only available on the memory
// backend.
func (c *Memory) InvalidateFunc(pred func(Fingerprint) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if pred(e.fingerprint) {
			delete(c.entries, key)
		}
	}
}

// Stats returns hit/miss counters and the current entry count.
func (c *Memory) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hitCount, c.missCount, len(c.entries)
}

// Close stops the background sweep. Safe to call more than once.
func (c *Memory) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (c *Memory) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, e := range c.entries {
		if oldestKey == "" || e.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Memory) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
