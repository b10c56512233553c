package parser

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCacheSetThenGetHitsInMemory(t *testing.T) {
	c := NewCache("parser-1", NewMemoryBackend())
	c.Set("nihimbilu", CacheEntry{BestParse: strPtr("ni-himb-il-u"), Candidates: []string{"ni-himb-il-u"}})

	entry, ok, err := c.Get(context.Background(), "nihimbilu", CacheEntry{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ni-himb-il-u", *entry.BestParse)
}

func TestCacheGetMissReturnsDefault(t *testing.T) {
	c := NewCache("parser-1", NewMemoryBackend())
	def := CacheEntry{Candidates: []string{}}
	entry, ok, err := c.Get(context.Background(), "missing", def)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, def, entry)
}

func TestCachePersistIsAppendOnly(t *testing.T) {
	backend := NewMemoryBackend()
	c := NewCache("parser-1", backend)
	c.Set("a", CacheEntry{BestParse: strPtr("a-parse")})
	require.NoError(t, c.Persist(context.Background()))

	// A second parser instance (simulating reload) sees the persisted row.
	c2 := NewCache("parser-1", backend)
	entry, ok, err := c2.Get(context.Background(), "a", CacheEntry{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a-parse", *entry.BestParse)

	// Persisting again with no new keys must not error and must not drop
	// the existing row (append-only invariant, spec.md §4.4).
	require.NoError(t, c.Persist(context.Background()))
	_, ok, err = backend.Load(context.Background(), "parser-1", "a")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCacheClearWithoutPersistKeepsBackendRows(t *testing.T) {
	backend := NewMemoryBackend()
	c := NewCache("parser-1", backend)
	c.Set("a", CacheEntry{BestParse: strPtr("a-parse")})
	require.NoError(t, c.Persist(context.Background()))

	require.NoError(t, c.Clear(context.Background(), false))
	_, ok, err := c.Get(context.Background(), "a", CacheEntry{})
	require.NoError(t, err)
	require.True(t, ok, "clear(persist=false) should not touch the durable backend")
}

func TestCacheClearWithPersistDeletesBackendRows(t *testing.T) {
	backend := NewMemoryBackend()
	c := NewCache("parser-1", backend)
	c.Set("a", CacheEntry{BestParse: strPtr("a-parse")})
	require.NoError(t, c.Persist(context.Background()))

	require.NoError(t, c.Clear(context.Background(), true))
	_, ok, err := backend.Load(context.Background(), "parser-1", "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheExportMergesBackendIntoMemory(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save(context.Background(), "parser-1", map[string]CacheEntry{
		"b": {BestParse: strPtr("b-parse")},
	}))

	c := NewCache("parser-1", backend)
	c.Set("a", CacheEntry{BestParse: strPtr("a-parse")})
	merged, err := c.Export(context.Background())
	require.NoError(t, err)

	// Independent checks on the same merged map: report every mismatch
	// instead of aborting at the first one.
	assert.Contains(t, merged, "a", "in-memory-only entry should survive export")
	assert.Contains(t, merged, "b", "backend-only entry should be merged in")
	assert.Equal(t, "a-parse", *merged["a"].BestParse)
	assert.Equal(t, "b-parse", *merged["b"].BestParse)
}

func TestBoundCandidatesTruncatesListToStayUnderByteBound(t *testing.T) {
	huge := make([]string, 20000)
	for i := range huge {
		huge[i] = "a-fairly-long-candidate-parse-string-to-pad-out-bytes"
	}
	bounded := boundCandidates(huge)
	data, err := json.Marshal(bounded)
	require.NoError(t, err)
	require.LessOrEqual(t, len(data), maxCandidatesBytes)
	require.Less(t, len(bounded), len(huge))
}

func TestBoundCandidatesLeavesSmallListsUntouched(t *testing.T) {
	small := []string{"a", "b", "c"}
	require.Equal(t, small, boundCandidates(small))
}

func TestFileBackendPersistedSaveLoadExportClear(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir + "/cache.json")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Save(ctx, "parser-1", map[string]CacheEntry{
		"x": {BestParse: strPtr("x-parse"), Candidates: []string{"x-parse", "x-alt"}},
	}))

	entry, ok, err := backend.Load(ctx, "parser-1", "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x-parse", *entry.BestParse)
	require.ElementsMatch(t, []string{"x-parse", "x-alt"}, entry.Candidates)

	persisted, err := backend.Persisted(ctx, "parser-1", []string{"x", "y"})
	require.NoError(t, err)
	require.True(t, persisted["x"])
	require.False(t, persisted["y"])

	exported, err := backend.Export(ctx, "parser-1")
	require.NoError(t, err)
	require.Contains(t, exported, "x")

	require.NoError(t, backend.Clear(ctx, "parser-1"))
	_, ok, err = backend.Load(ctx, "parser-1", "x")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileBackendReloadsPersistedRowsFromDisk(t *testing.T) {
	path := t.TempDir() + "/cache.json"
	ctx := context.Background()

	backend, err := NewFileBackend(path)
	require.NoError(t, err)
	require.NoError(t, backend.Save(ctx, "parser-1", map[string]CacheEntry{
		"a": {BestParse: strPtr("a-parse")},
	}))

	// A fresh backend opened against the same path picks up what was
	// written to disk, matching the pickle-based original's load-at-init.
	reopened, err := NewFileBackend(path)
	require.NoError(t, err)
	entry, ok, err := reopened.Load(ctx, "parser-1", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a-parse", *entry.BestParse)
}

func TestSQLiteBackendPersistedSaveLoadExportClear(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewSQLiteBackend(dir + "/cache.db")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Save(ctx, "parser-1", map[string]CacheEntry{
		"x": {BestParse: strPtr("x-parse"), Candidates: []string{"x-parse", "x-alt"}},
	}))

	entry, ok, err := backend.Load(ctx, "parser-1", "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x-parse", *entry.BestParse)
	require.ElementsMatch(t, []string{"x-parse", "x-alt"}, entry.Candidates)

	persisted, err := backend.Persisted(ctx, "parser-1", []string{"x", "y"})
	require.NoError(t, err)
	require.True(t, persisted["x"])
	require.False(t, persisted["y"])

	exported, err := backend.Export(ctx, "parser-1")
	require.NoError(t, err)
	require.Contains(t, exported, "x")

	require.NoError(t, backend.Clear(ctx, "parser-1"))
	_, ok, err = backend.Load(ctx, "parser-1", "x")
	require.NoError(t, err)
	require.False(t, ok)
}
