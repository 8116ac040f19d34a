package memory

import "sync"

// LocalCache is an in-memory localcache.Cache.
type LocalCache struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewLocalCache() *LocalCache {
	return &LocalCache{data: make(map[string]string)}
}

func (c *LocalCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *LocalCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *LocalCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}
