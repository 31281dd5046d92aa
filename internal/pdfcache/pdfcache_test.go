package pdfcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, maxSize int64) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), maxSize)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStore_WritesFileAndRowThenGetRetrievesIt(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()

	entry, err := c.Store(ctx, "paper-1", []byte("pdf bytes"), "arxiv")
	require.NoError(t, err)
	assert.Equal(t, "paper-1", entry.Identifier)
	assert.FileExists(t, entry.FilePath)

	data, ok, err := c.Get(ctx, "paper-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("pdf bytes"), data)
}

func TestGet_MissingIdentifierReturnsFalse(t *testing.T) {
	c := openTestCache(t, 0)
	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_SelfHealsWhenFileDeletedOutOfBand(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()
	entry, err := c.Store(ctx, "paper-1", []byte("pdf bytes"), "arxiv")
	require.NoError(t, err)

	require.NoError(t, os.Remove(entry.FilePath))

	_, ok, err := c.Get(ctx, "paper-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.Has(ctx, "paper-1"))
}

func TestStore_DeduplicatesIdenticalContentAcrossIdentifiers(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()

	a, err := c.Store(ctx, "paper-a", []byte("same bytes"), "arxiv")
	require.NoError(t, err)
	b, err := c.Store(ctx, "paper-b", []byte("same bytes"), "openalex")
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.FilePath, b.FilePath)
}

func TestHas_ReportsPresenceWithoutTouchingCounters(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()
	_, err := c.Store(ctx, "paper-1", []byte("x"), "arxiv")
	require.NoError(t, err)

	assert.True(t, c.Has(ctx, "paper-1"))
	assert.False(t, c.Has(ctx, "paper-2"))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestDelete_RemovesFileOnlyWhenNoOtherRowSharesHash(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()

	a, err := c.Store(ctx, "paper-a", []byte("shared"), "arxiv")
	require.NoError(t, err)
	_, err = c.Store(ctx, "paper-b", []byte("shared"), "arxiv")
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "paper-a"))
	assert.FileExists(t, a.FilePath) // paper-b still references the same content hash

	require.NoError(t, c.Delete(ctx, "paper-b"))
	_, statErr := os.Stat(a.FilePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestClear_RemovesAllRowsAndFiles(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()
	entry, err := c.Store(ctx, "paper-1", []byte("x"), "arxiv")
	require.NoError(t, err)

	require.NoError(t, c.Clear(ctx))
	assert.False(t, c.Has(ctx, "paper-1"))
	_, statErr := os.Stat(entry.FilePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStats_HitRateComputesRatio(t *testing.T) {
	c := openTestCache(t, 0)
	ctx := context.Background()
	_, err := c.Store(ctx, "paper-1", []byte("x"), "arxiv")
	require.NoError(t, err)

	_, _, _ = c.Get(ctx, "paper-1")
	_, _, _ = c.Get(ctx, "missing")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate())
}

func TestStats_ZeroLookupsHitRateIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.HitRate())
}

func TestMaybeEvict_EvictsOldestEntryWhenOverBudget(t *testing.T) {
	c := openTestCache(t, 25)
	ctx := context.Background()

	_, err := c.Store(ctx, "paper-1", []byte("0123456789"), "arxiv")
	require.NoError(t, err)
	_, err = c.Store(ctx, "paper-2", []byte("abcdefghij"), "arxiv")
	require.NoError(t, err)
	_, err = c.Store(ctx, "paper-3", []byte("klmnopqrst"), "arxiv")
	require.NoError(t, err)

	assert.False(t, c.Has(ctx, "paper-1"))
	assert.True(t, c.Has(ctx, "paper-2"))
	assert.True(t, c.Has(ctx, "paper-3"))
}

func TestShardPath_NestsByHashPrefix(t *testing.T) {
	got := shardPath("/root", "abcdef0123456789")
	assert.Equal(t, filepath.Join("/root", "ab", "cd", "abcdef0123456789.pdf"), got)
}
