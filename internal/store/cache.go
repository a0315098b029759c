package store

import (
	"container/list"
	"sync"
)

// resultCache is a small LRU for rehydrated result documents. A single
// mutex guards mutation. Documents are deep-copied on the way in and out
// so a caller mutating a loaded payload never corrupts later hits.
type resultCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key string
	doc map[string]any
}

func newResultCache(maxSize int) *resultCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &resultCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *resultCache) get(key string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	doc, err := deepCopy(elem.Value.(*cacheEntry).doc)
	if err != nil {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return doc, true
}

func (c *resultCache) put(key string, doc map[string]any) {
	copied, err := deepCopy(doc)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).doc = copied
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, doc: copied})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *resultCache) evict(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if elem, ok := c.entries[key]; ok {
			c.order.Remove(elem)
			delete(c.entries, key)
		}
	}
}
