// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package routing

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheGetSet(t *testing.T) {
	cache := NewSemanticCache(10, time.Hour)

	result := RoutingResult{ModelID: "llama3", Confidence: 0.8}
	cache.Set("write a sort function", result)

	got, ok := cache.Get("write a sort function")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.ModelID != "llama3" {
		t.Errorf("ModelID = %q, want %q", got.ModelID, "llama3")
	}
	if !got.Cached {
		t.Error("returned result should have Cached=true")
	}
}

func TestCacheMiss(t *testing.T) {
	cache := NewSemanticCache(10, time.Hour)

	if _, ok := cache.Get("never stored"); ok {
		t.Error("expected miss for absent prompt")
	}
}

func TestCacheRawPromptKeying(t *testing.T) {
	// Keys hash the raw prompt: whitespace and case variants are
	// distinct entries.
	cache := NewSemanticCache(10, time.Hour)
	cache.Set("hello world", RoutingResult{ModelID: "a"})

	tests := []struct {
		name   string
		prompt string
		hit    bool
	}{
		{"exact match", "hello world", true},
		{"trailing space", "hello world ", false},
		{"case variant", "Hello world", false},
		{"collapsed whitespace", "hello  world", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := cache.Get(tt.prompt)
			if ok != tt.hit {
				t.Errorf("Get(%q) hit = %v, want %v", tt.prompt, ok, tt.hit)
			}
		})
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewSemanticCache(10, 60*time.Second)

	base := time.Now()
	now := base
	cache.now = func() time.Time { return now }

	cache.Set("prompt", RoutingResult{ModelID: "m"})

	// Still valid one second before the TTL boundary.
	now = base.Add(59 * time.Second)
	if _, ok := cache.Get("prompt"); !ok {
		t.Error("entry should be valid at ttl-1s")
	}

	// Expired one second past the boundary, and deleted on lookup.
	now = base.Add(61 * time.Second)
	if _, ok := cache.Get("prompt"); ok {
		t.Error("entry should be expired at ttl+1s")
	}
	if cache.Len() != 0 {
		t.Errorf("expired entry should be deleted, len = %d", cache.Len())
	}
}

func TestCacheNoTTLRefreshOnRead(t *testing.T) {
	cache := NewSemanticCache(10, 60*time.Second)

	base := time.Now()
	now := base
	cache.now = func() time.Time { return now }

	cache.Set("prompt", RoutingResult{ModelID: "m"})

	// Reads at 30s and 50s must not extend the entry's lifetime.
	now = base.Add(30 * time.Second)
	cache.Get("prompt")
	now = base.Add(50 * time.Second)
	cache.Get("prompt")

	now = base.Add(61 * time.Second)
	if _, ok := cache.Get("prompt"); ok {
		t.Error("reads must not refresh the insertion timestamp")
	}
}

func TestCacheInsertionOrderEviction(t *testing.T) {
	cache := NewSemanticCache(3, time.Hour)

	base := time.Now()
	now := base
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		now = base.Add(time.Duration(i) * time.Second)
		cache.Set(fmt.Sprintf("prompt-%d", i), RoutingResult{ModelID: fmt.Sprintf("m%d", i)})
	}

	// Touch the oldest entry; eviction is by insertion order, not access,
	// so prompt-0 must still be the one evicted.
	now = base.Add(10 * time.Second)
	cache.Get("prompt-0")

	cache.Set("prompt-3", RoutingResult{ModelID: "m3"})

	if cache.Len() != 3 {
		t.Errorf("len = %d, want 3", cache.Len())
	}
	if _, ok := cache.Get("prompt-0"); ok {
		t.Error("oldest-inserted entry should have been evicted")
	}
	for i := 1; i <= 3; i++ {
		if _, ok := cache.Get(fmt.Sprintf("prompt-%d", i)); !ok {
			t.Errorf("prompt-%d should survive eviction", i)
		}
	}
}

func TestCacheSetExistingKeyDoesNotEvict(t *testing.T) {
	cache := NewSemanticCache(2, time.Hour)
	cache.Set("a", RoutingResult{ModelID: "m1"})
	cache.Set("b", RoutingResult{ModelID: "m2"})

	// Overwriting an existing key at capacity must not evict anything.
	cache.Set("a", RoutingResult{ModelID: "m1b"})

	if cache.Len() != 2 {
		t.Errorf("len = %d, want 2", cache.Len())
	}
	got, ok := cache.Get("a")
	if !ok || got.ModelID != "m1b" {
		t.Errorf("Get(a) = %+v, %v; want updated entry", got, ok)
	}
	if _, ok := cache.Get("b"); !ok {
		t.Error("entry b should not have been evicted")
	}
}

func TestCacheClear(t *testing.T) {
	cache := NewSemanticCache(10, time.Hour)
	cache.Set("a", RoutingResult{ModelID: "m1"})
	cache.Set("b", RoutingResult{ModelID: "m2"})

	cache.Clear()

	if cache.Len() != 0 {
		t.Errorf("len after clear = %d, want 0", cache.Len())
	}
}

func TestCacheStats(t *testing.T) {
	cache := NewSemanticCache(1, time.Hour)

	cache.Get("absent") // miss
	cache.Set("a", RoutingResult{})
	cache.Get("a")                // hit
	cache.Set("b", RoutingResult{}) // evicts a

	stats := cache.Stats()
	if stats.Hits != 1 {
		t.Errorf("hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}
	if stats.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", stats.Evictions)
	}
	if stats.Size != 1 || stats.MaxSize != 1 {
		t.Errorf("size = %d/%d, want 1/1", stats.Size, stats.MaxSize)
	}
}

func BenchmarkCacheGet(b *testing.B) {
	cache := NewSemanticCache(1000, time.Hour)
	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("prompt-%d", i), RoutingResult{ModelID: "m"})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get("prompt-500")
	}
}

func BenchmarkCacheSet(b *testing.B) {
	cache := NewSemanticCache(1000, time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Set(fmt.Sprintf("prompt-%d", i%2000), RoutingResult{ModelID: "m"})
	}
}
