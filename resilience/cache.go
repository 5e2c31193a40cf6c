package resilience

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Cache stores tool responses keyed by tool name and a canonical argument
// hash. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, tool, key string) (json.RawMessage, bool)
	Set(ctx context.Context, tool, key string, value json.RawMessage, ttl time.Duration)
	Invalidate(ctx context.Context, tool string)
	Stats() CacheStats
}

// CacheStats is a point-in-time snapshot for the admin surface.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// CacheKey builds an order-insensitive key from tool arguments: the map is
// encoded with sorted keys (recursively) and hashed with FNV-1a. Two calls
// with the same arguments in different order produce the same key. Defaults
// must already be applied so explicit-default and omitted arguments collide.
func CacheKey(args map[string]interface{}) string {
	h := fnv.New64a()
	writeCanonical(h, args)
	return strconv.FormatUint(h.Sum64(), 16)
}

func writeCanonical(h interface{ Write([]byte) (int, error) }, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.Write([]byte{'{'})
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte{':'})
			writeCanonical(h, val[k])
			h.Write([]byte{','})
		}
		h.Write([]byte{'}'})
	case []interface{}:
		h.Write([]byte{'['})
		for _, item := range val {
			writeCanonical(h, item)
			h.Write([]byte{','})
		}
		h.Write([]byte{']'})
	default:
		data, _ := json.Marshal(val)
		h.Write(data)
	}
}

type memoryEntry struct {
	key       string
	value     json.RawMessage
	expiresAt time.Time
}

// toolShard holds one tool's entries with LRU ordering.
type toolShard struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

// MemoryCache is the default in-process cache: one LRU shard per tool, each
// capped at maxEntries, entries expiring by TTL on read.
type MemoryCache struct {
	mu         sync.RWMutex
	shards     map[string]*toolShard
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a cache capped at maxEntries per tool.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries < 1 {
		maxEntries = 1000
	}
	return &MemoryCache{
		shards:     make(map[string]*toolShard),
		maxEntries: maxEntries,
	}
}

func (c *MemoryCache) shard(tool string, create bool) *toolShard {
	c.mu.RLock()
	s, ok := c.shards[tool]
	c.mu.RUnlock()
	if ok || !create {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.shards[tool]; ok {
		return s
	}
	s = &toolShard{
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
	c.shards[tool] = s
	return s
}

func (c *MemoryCache) Get(ctx context.Context, tool, key string) (json.RawMessage, bool) {
	s := c.shard(tool, false)
	if s == nil {
		c.misses.Add(1)
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		s.order.Remove(elem)
		delete(s.entries, key)
		c.misses.Add(1)
		return nil, false
	}
	s.order.MoveToFront(elem)
	c.hits.Add(1)
	return entry.value, true
}

func (c *MemoryCache) Set(ctx context.Context, tool, key string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := c.shard(tool, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		s.order.MoveToFront(elem)
		return
	}

	if s.order.Len() >= c.maxEntries {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*memoryEntry).key)
		}
	}
	s.entries[key] = s.order.PushFront(&memoryEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
}

func (c *MemoryCache) Invalidate(ctx context.Context, tool string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.shards, tool)
}

func (c *MemoryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.order.Len()
		s.mu.Unlock()
	}
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: total,
	}
}

// NoOpCache disables caching entirely.
type NoOpCache struct{}

func (NoOpCache) Get(ctx context.Context, tool, key string) (json.RawMessage, bool) { return nil, false }
func (NoOpCache) Set(ctx context.Context, tool, key string, value json.RawMessage, ttl time.Duration) {
}
func (NoOpCache) Invalidate(ctx context.Context, tool string) {}
func (NoOpCache) Stats() CacheStats                           { return CacheStats{} }

var _ Cache = (*MemoryCache)(nil)
var _ Cache = NoOpCache{}

// redisKeyFor builds the storage key for the Redis backend.
func redisKeyFor(prefix, tool, key string) string {
	return fmt.Sprintf("%s%s:%s", prefix, tool, key)
}
