package services

import (
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/metriq-io/semantic-engine/pkg/semantic"
)

// compileCache memoizes compiled preview statements in memory. Keys include
// the model's version, so every registry mutation naturally invalidates the
// model's entries without coordination. Cached queries are treated as
// immutable by all readers.
type compileCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*semantic.Query
}

// newCompileCache creates a cache bounded to maxSize entries.
func newCompileCache(maxSize int) *compileCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &compileCache{
		maxSize: maxSize,
		entries: make(map[string]*semantic.Query),
	}
}

func (c *compileCache) get(key string) (*semantic.Query, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.entries[key]
	return q, ok
}

func (c *compileCache) put(key string, q *semantic.Query) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		// At capacity: evict one arbitrary entry.
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = q
}

func (c *compileCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// compileCacheKey identifies one compiled statement: model identity and
// version, dialect, the ordered selection and the clamped limit.
func compileCacheKey(modelID uuid.UUID, version int64, dialect string, measureIDs, dimensionIDs []uuid.UUID, limit int) string {
	var b strings.Builder
	b.WriteString(modelID.String())
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(version, 10))
	b.WriteByte('|')
	b.WriteString(dialect)
	b.WriteByte('|')
	for _, id := range measureIDs {
		b.WriteString(id.String())
		b.WriteByte(',')
	}
	b.WriteByte('|')
	for _, id := range dimensionIDs {
		b.WriteString(id.String())
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(limit))
	return b.String()
}
