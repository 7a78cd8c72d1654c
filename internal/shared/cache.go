package shared

import (
	"context"
	"sync"
)

// Cache resolves shared-content ids to their objects. Population consults
// caches in the order given; the first cache that knows an id wins.
type Cache interface {
	// Get returns the object stored under id, or found=false when the
	// cache does not hold it.
	Get(ctx context.Context, id string) (obj map[string]interface{}, found bool, err error)

	// Put stores an object under its id.
	Put(ctx context.Context, id string, obj map[string]interface{}) error
}

// MapCache is an in-memory Cache, intended to be request-scoped: built
// fresh per operation so repeated references within one request resolve
// without re-fetching, and discarded afterwards.
type MapCache struct {
	mu      sync.RWMutex
	objects map[string]map[string]interface{}
}

// NewMapCache creates an empty in-memory cache.
func NewMapCache() *MapCache {
	return &MapCache{objects: make(map[string]map[string]interface{})}
}

// Get implements Cache.
func (c *MapCache) Get(_ context.Context, id string) (map[string]interface{}, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[id]
	return obj, ok, nil
}

// Put implements Cache.
func (c *MapCache) Put(_ context.Context, id string, obj map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[id] = obj
	return nil
}

// Len returns the number of cached objects.
func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}
