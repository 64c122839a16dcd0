package cache

import "sync"

// InMemoryCache is a concurrent-safe in-memory key-value store.
// The crawl engine uses one per run for results, retry counters and robots rules.
type InMemoryCache[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// NewInMemoryCache creates and returns a new InMemoryCache.
func NewInMemoryCache[V any]() *InMemoryCache[V] {
	return &InMemoryCache[V]{
		items: make(map[string]V),
	}
}

// Get retrieves a value from the cache.
// It returns the value and true if the key exists, otherwise the zero value and false.
func (c *InMemoryCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, found := c.items[key]
	return item, found
}

// Has reports whether key is present.
func (c *InMemoryCache[V]) Has(key string) bool {
	_, found := c.Get(key)
	return found
}

// Set adds or updates a value in the cache.
func (c *InMemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

// SetIfAbsent stores value only when key is missing and reports whether it did.
func (c *InMemoryCache[V]) SetIfAbsent(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.items[key]; found {
		return false
	}
	c.items[key] = value
	return true
}

// Update applies fn to the current value (zero value and false when absent)
// under the write lock and stores the result.
func (c *InMemoryCache[V]) Update(key string, fn func(current V, found bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, found := c.items[key]
	next := fn(current, found)
	c.items[key] = next
	return next
}

// Delete removes a value from the cache.
func (c *InMemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// DeleteFunc removes every entry for which fn returns true and returns how many were removed.
func (c *InMemoryCache[V]) DeleteFunc(fn func(key string, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, v := range c.items {
		if fn(k, v) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (c *InMemoryCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Values returns a snapshot of all values in no particular order.
func (c *InMemoryCache[V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]V, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	return out
}

// Clear removes all entries.
func (c *InMemoryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]V)
}
