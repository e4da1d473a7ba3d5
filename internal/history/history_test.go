// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigsched/internal/routing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record("hash-1", routing.RoutingResult{
		ModelID:    "llama3:8b",
		Provider:   "ollama",
		Confidence: 0.82,
		Category:   routing.CategoryCoding,
		Complexity: routing.ComplexityMedium,
		Reasoning:  "llama3:8b: score 0.820",
	}))
	require.NoError(t, store.Record("hash-2", routing.RoutingResult{
		ModelID:    "phi3:mini",
		Provider:   "ollama",
		Confidence: 0.61,
		Category:   routing.CategoryGeneral,
		Cached:     true,
	}))

	decisions, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, decisions, 2)

	// Newest first.
	assert.Equal(t, "phi3:mini", decisions[0].ModelID)
	assert.True(t, decisions[0].Cached)
	assert.Equal(t, "llama3:8b", decisions[1].ModelID)
	assert.Equal(t, "coding", decisions[1].Category)
	assert.Equal(t, "medium", decisions[1].Complexity)
	assert.InDelta(t, 0.82, decisions[1].Confidence, 1e-9)
	assert.False(t, decisions[1].CreatedAt.IsZero())
}

func TestRecentLimit(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record("h", routing.RoutingResult{ModelID: "m", Provider: "p"}))
	}

	decisions, err := store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, decisions, 3)
}

func TestTotals(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Record("h1", routing.RoutingResult{
		ModelID: "a", Provider: "p", Category: routing.CategoryCoding,
	}))
	require.NoError(t, store.Record("h2", routing.RoutingResult{
		ModelID: "a", Provider: "p", Category: routing.CategoryCoding, Cached: true,
	}))
	require.NoError(t, store.Record("h3", routing.RoutingResult{
		ModelID: "b", Provider: "p", Category: routing.CategoryMath,
	}))

	totals, err := store.Totals()
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.Decisions)
	assert.Equal(t, int64(1), totals.CacheHits)
	assert.Equal(t, int64(2), totals.ByCategory["coding"])
	assert.Equal(t, int64(1), totals.ByCategory["math"])
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *Store

	assert.NoError(t, store.Record("h", routing.RoutingResult{}))

	decisions, err := store.Recent(10)
	assert.NoError(t, err)
	assert.Empty(t, decisions)

	totals, err := store.Totals()
	assert.NoError(t, err)
	assert.Zero(t, totals.Decisions)

	assert.NoError(t, store.Close())
}
