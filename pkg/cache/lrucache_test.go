package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/guildlink/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLRUCache_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("Eviction policy works correctly", func(t *testing.T) {
		// Arrange
		var fetcherCallCount atomic.Int32
		source := cache.FetcherFunc[string, string](func(ctx context.Context, name string) (string, error) {
			fetcherCallCount.Add(1)
			switch name {
			case "HeroA":
				return "ocid-a", nil
			case "HeroB":
				return "ocid-b", nil
			case "HeroC":
				return "ocid-c", nil
			default:
				return "", errors.New("not found")
			}
		})

		lru, err := cache.NewInMemoryLRUCache[string, string](2, source)
		require.NoError(t, err)

		// Act 1: Fill the cache.
		a, _ := lru.Fetch(ctx, "HeroA")
		b, _ := lru.Fetch(ctx, "HeroB")

		// Assert 1
		assert.Equal(t, "ocid-a", a)
		assert.Equal(t, "ocid-b", b)
		assert.Equal(t, int32(2), fetcherCallCount.Load(), "Fallback should be called twice to fill the cache")

		// Act 2: HeroA becomes most recently used.
		_, _ = lru.Fetch(ctx, "HeroA")
		assert.Equal(t, int32(2), fetcherCallCount.Load(), "Fallback should NOT be called for a cache hit")

		// Act 3: HeroC evicts HeroB.
		c, _ := lru.Fetch(ctx, "HeroC")
		assert.Equal(t, "ocid-c", c)
		assert.Equal(t, int32(3), fetcherCallCount.Load())
		assert.Equal(t, 2, lru.Len())

		// Act 4: HeroB was evicted, HeroC evicts HeroA.
		_, _ = lru.Fetch(ctx, "HeroB")
		assert.Equal(t, int32(4), fetcherCallCount.Load(), "Fallback should be called for the evicted key")

		// Act 5: HeroC is still cached.
		_, _ = lru.Fetch(ctx, "HeroC")
		assert.Equal(t, int32(4), fetcherCallCount.Load(), "HeroC should still be cached")
	})

	t.Run("Fallback errors are returned and not cached", func(t *testing.T) {
		// Arrange
		var calls atomic.Int32
		lookupErr := errors.New("upstream down")
		source := cache.FetcherFunc[string, string](func(ctx context.Context, name string) (string, error) {
			calls.Add(1)
			return "", lookupErr
		})
		lru, err := cache.NewInMemoryLRUCache[string, string](4, source)
		require.NoError(t, err)

		// Act
		_, err1 := lru.Fetch(ctx, "AltX")
		_, err2 := lru.Fetch(ctx, "AltX")

		// Assert
		assert.ErrorIs(t, err1, lookupErr)
		assert.ErrorIs(t, err2, lookupErr)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, 0, lru.Len())
	})

	t.Run("Invalidate and Purge", func(t *testing.T) {
		// Arrange
		var calls atomic.Int32
		source := cache.FetcherFunc[string, int](func(ctx context.Context, key string) (int, error) {
			calls.Add(1)
			return len(key), nil
		})
		lru, err := cache.NewInMemoryLRUCache[string, int](4, source)
		require.NoError(t, err)
		_, _ = lru.Fetch(ctx, "one")
		_, _ = lru.Fetch(ctx, "three")

		// Act
		require.NoError(t, lru.Invalidate(ctx, "one"))
		_, _ = lru.Fetch(ctx, "one")
		lru.Purge()

		// Assert
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, 0, lru.Len())
	})

	t.Run("Concurrent fetches are safe", func(t *testing.T) {
		// Arrange
		source := cache.FetcherFunc[int, int](func(ctx context.Context, key int) (int, error) {
			return key * 2, nil
		})
		lru, err := cache.NewInMemoryLRUCache[int, int](8, source)
		require.NoError(t, err)

		// Act
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				v, err := lru.Fetch(ctx, k%10)
				assert.NoError(t, err)
				assert.Equal(t, (k%10)*2, v)
			}(i)
		}
		wg.Wait()

		// Assert
		assert.LessOrEqual(t, lru.Len(), 8)
	})

	t.Run("Miss with no fallback", func(t *testing.T) {
		// Arrange
		lru, err := cache.NewInMemoryLRUCache[string, int](5, nil)
		require.NoError(t, err)

		// Act
		_, err = lru.Fetch(ctx, "miss")

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found in LRU cache and no fallback is configured")
	})

	t.Run("Invalid size", func(t *testing.T) {
		_, err := cache.NewInMemoryLRUCache[string, int](0, nil)
		require.Error(t, err)
	})
}
