package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type moduleName string

type entry struct {
	Name string
	URL  string
}

func TestInMemoryCacheManager_GetExistingValue_StructType(t *testing.T) {
	cache := NewInMemoryCacheManager[moduleName, entry]("modules", NoExpiration, DefaultCleanupInterval)
	want := entry{Name: "header", URL: "http://localhost:3001/remoteEntry.json"}

	cache.Set(context.Background(), "header", want, NoExpiration)

	got, ok := cache.Get(context.Background(), "header")
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestInMemoryCacheManager_GetMissing(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("modules", NoExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "orders")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWithInvalidValueType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("modules", NoExpiration, DefaultCleanupInterval)
	cache.cache.Set("orders", 123, NoExpiration)

	got, ok := cache.Get(context.Background(), "orders")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_Expires(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("modules", NoExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "orders", "x", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), "orders")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, string]("modules", NoExpiration, DefaultCleanupInterval)
	cache.Set(ctx, "header", "a", NoExpiration)
	cache.Set(ctx, "orders", "b", NoExpiration)
	cache.Set(ctx, "products", "c", NoExpiration)

	require.NoError(t, cache.Delete(ctx))
	require.NoError(t, cache.Delete(ctx, "header"))
	_, ok := cache.Get(ctx, "header")
	require.False(t, ok)

	require.Equal(t, map[string]string{"orders": "b", "products": "c"}, cache.Items(ctx))

	require.NoError(t, cache.Flush(ctx))
	require.Empty(t, cache.Items(ctx))
}
