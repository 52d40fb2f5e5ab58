package schemacache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/canopy/pkg/collab"
)

func TestGet_FetchOnMiss(t *testing.T) {
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put("schema-1", []byte(`{"type":"object"}`))

	cache, err := Open(Options{Fetcher: fetcher})
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	assert.False(t, cache.Has("schema-1"))

	schema, err := cache.Get(context.Background(), "schema-1")
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])
	assert.True(t, cache.Has("schema-1"))
}

func TestGet_RejectsNonObject(t *testing.T) {
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put("bad", []byte(`["not","an","object"]`))

	cache, err := Open(Options{Fetcher: fetcher})
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "bad")
	require.ErrorIs(t, err, ErrInvalidSchema)
	assert.False(t, cache.Has("bad"))
}

func TestLRU_Eviction(t *testing.T) {
	fetcher := collab.NewMemoryFetcher()
	for i := 0; i < 4; i++ {
		fetcher.Put(fmt.Sprintf("s%d", i), []byte(`{"type":"object"}`))
	}

	cache, err := Open(Options{Fetcher: fetcher, Capacity: 2})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := cache.Get(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cache.Len())
	assert.False(t, cache.Has("s0"))
	assert.True(t, cache.Has("s3"))
}

func TestPreload_ToleratesFailures(t *testing.T) {
	fetcher := collab.NewMemoryFetcher()
	fetcher.Put("ok", []byte(`{"type":"object"}`))

	cache, err := Open(Options{Fetcher: fetcher})
	require.NoError(t, err)

	cache.Preload(context.Background(), []string{"ok", "missing"})

	assert.True(t, cache.Has("ok"))
	assert.False(t, cache.Has("missing"))

	// The failed id stays retryable.
	fetcher.Put("missing", []byte(`{"type":"string"}`))
	_, err = cache.Get(context.Background(), "missing")
	require.NoError(t, err)
}

func TestDiskPersistence_WarmsAcrossOpens(t *testing.T) {
	dir := t.TempDir()

	fetcher := collab.NewMemoryFetcher()
	fetcher.Put("persist-me", []byte(`{"title":"persisted"}`))

	first, err := Open(Options{Fetcher: fetcher, CacheDir: dir})
	require.NoError(t, err)
	_, err = first.Get(context.Background(), "persist-me")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A fresh cache with a fetcher that knows nothing must serve from disk.
	second, err := Open(Options{Fetcher: collab.NewMemoryFetcher(), CacheDir: dir})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	assert.True(t, second.Has("persist-me"))
	schema, err := second.Get(context.Background(), "persist-me")
	require.NoError(t, err)
	assert.Equal(t, "persisted", schema["title"])
}
