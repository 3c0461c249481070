package ocrsched

import (
	"container/list"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// CacheKeyPrefix namespaces persisted cache entries in the KeyValueStore.
const CacheKeyPrefix = "scanner_ocr_cache:"

// DefaultCacheCapacity bounds the number of live entries before eviction.
const DefaultCacheCapacity = 128

// DefaultCacheTTL is applied when Put is called with a non-positive TTL.
const DefaultCacheTTL = 24 * time.Hour

// ResultCache is a content-addressable cache of OCR results. Keys are
// derived from the image bytes plus normalized options, so re-scanning the
// same image is free. Expiry is lazy (checked on read); eviction on write
// prefers expired entries, then the least-recently-read live entry.
//
// Persistence through the KeyValueStore is best-effort: a store failure
// never fails the extraction that produced the result.
type ResultCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List // front = most recently read
	capacity int
	store    KeyValueStore
	logger   *slog.Logger
	now      func() time.Time
}

type cacheEntry struct {
	Key       string    `json:"key"`
	Value     OCRResult `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	TTLMs     int64     `json:"ttlMs"`
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > time.Duration(e.TTLMs)*time.Millisecond
}

// NewResultCache creates a cache with the given capacity (<=0 means
// DefaultCacheCapacity). A nil store keeps entries in memory only.
func NewResultCache(capacity int, store KeyValueStore, logger *slog.Logger) *ResultCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		capacity: capacity,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// GenerateKey derives the content-addressable key for an image and its
// normalized options. Identical inputs always produce identical keys.
func GenerateKey(image []byte, opts OCROptions) string {
	h := murmur3.New128()
	h.Write(image)
	h.Write([]byte{0})
	h.Write([]byte(opts.normalize()))
	var buf [16]byte
	h1, h2 := h.Sum128()
	binary.BigEndian.PutUint64(buf[:8], h1)
	binary.BigEndian.PutUint64(buf[8:], h2)
	return hex.EncodeToString(buf[:])
}

// Get returns the cached result for key, or ok=false on miss or expiry.
// A hit refreshes the entry's recency.
func (c *ResultCache) Get(ctx context.Context, key string) (OCRResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		if entry.expired(c.now()) {
			c.removeLocked(ctx, el)
			return OCRResult{}, false
		}
		c.lru.MoveToFront(el)
		return entry.Value, true
	}

	// Memory miss: try the durable store (a previous process may have
	// written it).
	if c.store == nil {
		return OCRResult{}, false
	}
	raw, ok, err := c.store.Get(ctx, CacheKeyPrefix+key)
	if err != nil || !ok {
		if err != nil {
			c.logger.Warn("cache store read failed", "key", key, "error", err)
		}
		return OCRResult{}, false
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.store.Remove(ctx, CacheKeyPrefix+key)
		return OCRResult{}, false
	}
	if entry.expired(c.now()) {
		_ = c.store.Remove(ctx, CacheKeyPrefix+key)
		return OCRResult{}, false
	}
	c.insertLocked(ctx, &entry, false)
	return entry.Value, true
}

// Put stores a result under key. An existing entry for the same key is
// overwritten, never mutated in place.
func (c *ResultCache) Put(ctx context.Context, key string, result OCRResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	entry := &cacheEntry{
		Key:       key,
		Value:     result,
		CreatedAt: c.now(),
		TTLMs:     ttl.Milliseconds(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.lru.Remove(el)
		delete(c.entries, key)
	}
	c.insertLocked(ctx, entry, true)
}

// Len reports the number of in-memory entries, expired included.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// insertLocked adds the entry, evicting as needed, and optionally persists.
func (c *ResultCache) insertLocked(ctx context.Context, entry *cacheEntry, persist bool) {
	for len(c.entries) >= c.capacity {
		c.evictOneLocked(ctx)
	}
	el := c.lru.PushFront(entry)
	c.entries[entry.Key] = el

	if persist && c.store != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			c.logger.Warn("cache entry marshal failed", "key", entry.Key, "error", err)
			return
		}
		if err := c.store.Set(ctx, CacheKeyPrefix+entry.Key, string(data)); err != nil {
			c.logger.Warn("cache persist failed, entry kept in memory",
				"key", entry.Key, "error", err)
		}
	}
}

// evictOneLocked removes one entry: an expired one if any exists, otherwise
// the least-recently-read.
func (c *ResultCache) evictOneLocked(ctx context.Context) {
	now := c.now()
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		if el.Value.(*cacheEntry).expired(now) {
			c.removeLocked(ctx, el)
			return
		}
	}
	if el := c.lru.Back(); el != nil {
		c.removeLocked(ctx, el)
	}
}

func (c *ResultCache) removeLocked(ctx context.Context, el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.lru.Remove(el)
	delete(c.entries, entry.Key)
	if c.store != nil {
		if err := c.store.Remove(ctx, CacheKeyPrefix+entry.Key); err != nil {
			c.logger.Warn("cache store remove failed", "key", entry.Key, "error", err)
		}
	}
}
