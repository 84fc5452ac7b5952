package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	v   []byte
	exp time.Time
}

// TTLCache is an in-process BytesCache with per-entry expiry
type TTLCache struct {
	mu    sync.RWMutex
	m     map[string]entry
	max   int
	clock func() time.Time
}

// NewTTLCache creates a cache holding at most max entries (0 = unbounded)
func NewTTLCache(max int) *TTLCache {
	return &TTLCache{m: make(map[string]entry), max: max, clock: time.Now}
}

// WithClock overrides the expiry time source
func (c *TTLCache) WithClock(clock func() time.Time) *TTLCache {
	c.clock = clock
	return c
}

func (c *TTLCache) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && c.clock().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.v, true, nil
}

func (c *TTLCache) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	now := c.clock()
	if ttl > 0 {
		exp = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.max > 0 && len(c.m) >= c.max {
		c.evict(now)
	}
	c.m[key] = entry{v: value, exp: exp}
	return nil
}

// Len returns the number of stored entries, expired ones included
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// evict drops expired entries, or everything if none had expired. Caller holds mu.
func (c *TTLCache) evict(now time.Time) {
	before := len(c.m)
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
		}
	}
	if len(c.m) == before {
		c.m = make(map[string]entry)
	}
}
