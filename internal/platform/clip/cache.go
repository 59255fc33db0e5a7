package clip

import (
	"crypto/sha256"
	"sync"
)

// textCache is a bounded FIFO cache from text hash to embedding. It is
// process-local and safe for concurrent use.
type textCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[[32]byte][]float32
	order   [][32]byte
}

func newTextCache(maxSize int) *textCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &textCache{
		maxSize: maxSize,
		entries: make(map[[32]byte][]float32, maxSize),
	}
}

func (c *textCache) get(text string) ([]float32, bool) {
	key := sha256.Sum256([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.entries[key]
	return vec, ok
}

func (c *textCache) put(text string, vec []float32) {
	key := sha256.Sum256([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = vec
	c.order = append(c.order, key)
}

func (c *textCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
