// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"container/list"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Key derives the cache key for a DAG position from the forward
// extremities whose combined state is being requested. Insensitive to
// input order; never derived from wall-clock time.
func Key(extremities []ref.EventID) string {
	ids := make([]string, len(extremities))
	for i, id := range extremities {
		ids[i] = id.String()
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// Cache memoizes resolved state maps keyed by DAG position, with LRU
// eviction. Entries are immutable: Get and Put clone, and an entry is
// only ever superseded by a new entry under a new key, never edited.
//
// Safe for concurrent use, though ingest serializes per room so
// contention is across rooms only.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
}

type cacheEntry struct {
	key   string
	state event.StateMap
}

// NewCache returns a cache holding at most capacity entries. A
// non-positive capacity gets a generous default.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns a copy of the cached state for the key, if present.
func (c *Cache) Get(key string) (event.StateMap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	element, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(element)
	return element.Value.(*cacheEntry).state.Clone(), true
}

// Put stores a copy of the state under the key, evicting the least
// recently used entry when over capacity.
func (c *Cache) Put(key string, state event.StateMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.entries[key]; ok {
		// Same DAG position implies the same resolved state; just
		// refresh recency.
		c.order.MoveToFront(element)
		return
	}
	element := c.order.PushFront(&cacheEntry{key: key, state: state.Clone()})
	c.entries[key] = element
	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// GetOrResolve returns the cached state for the key, or runs compute
// and caches its result. A compute error commits nothing: the cache
// is untouched and a later call retries from scratch.
func (c *Cache) GetOrResolve(key string, compute func() (event.StateMap, error)) (event.StateMap, error) {
	if state, ok := c.Get(key); ok {
		return state, nil
	}
	state, err := compute()
	if err != nil {
		return nil, err
	}
	c.Put(key, state)
	return state.Clone(), nil
}

// Len reports the number of cached positions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
