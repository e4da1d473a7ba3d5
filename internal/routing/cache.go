// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// ============================================================================
// SEMANTIC CACHE
// ============================================================================

// SemanticCache is a prompt-hash-keyed, TTL- and size-bounded store of prior
// routing decisions. "Semantic" is historical naming: keys are SHA-256 hashes
// of the raw prompt text, so only byte-identical prompts hit.
//
// This is a pure TTL cache, not an LRU: reads never refresh an entry's
// timestamp, and eviction removes the oldest-inserted entry.
type SemanticCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration

	// now is swappable for deterministic TTL tests.
	now func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

// cacheEntry pairs a stored decision with its insertion timestamp.
type cacheEntry struct {
	result     RoutingResult
	insertedAt time.Time
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// NewSemanticCache creates a cache bounded to maxSize entries, each valid
// for ttl after insertion.
func NewSemanticCache(maxSize int, ttl time.Duration) *SemanticCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &SemanticCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// HashPrompt returns the cache key for a prompt: SHA-256 of the raw,
// unnormalized text. Whitespace or case variants are distinct entries.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached decision for the prompt, if present and fresh.
// Expired entries are deleted on lookup. The returned result has its
// Cached flag set; the stored entry's timestamp is not refreshed.
func (c *SemanticCache) Get(prompt string) (RoutingResult, bool) {
	key := HashPrompt(prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return RoutingResult{}, false
	}

	if c.now().Sub(entry.insertedAt) >= c.ttl {
		delete(c.entries, key)
		c.misses++
		return RoutingResult{}, false
	}

	c.hits++
	result := entry.result
	result.Cached = true
	return result, true
}

// Set stores a decision under the prompt's hash. When the cache is full,
// the entry with the smallest insertion timestamp is evicted first
// (strict insertion-order eviction, not LRU-by-access).
func (c *SemanticCache) Set(prompt string, result RoutingResult) {
	key := HashPrompt(prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = cacheEntry{
		result:     result,
		insertedAt: c.now(),
	}
}

// evictOldestLocked removes the single entry with the earliest insertion
// timestamp. Caller must hold c.mu.
func (c *SemanticCache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entry := range c.entries {
		if first || entry.insertedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.insertedAt
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// Clear drops all entries.
func (c *SemanticCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the current number of entries.
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *SemanticCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
