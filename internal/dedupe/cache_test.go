// ABOUTME: Tests for the reply cache used to answer redelivered messages.
// ABOUTME: Validates TTL expiration, size limits, eviction, cleanup, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newTestCache returns a cache on a manually advanced clock.
func newTestCache(ttl time.Duration, maxSize int) (*Cache, *time.Time) {
	cache := New(ttl, maxSize)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestCache_Lookup_NotSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// Key that was never stored should miss
	_, ok := cache.Lookup("SM-never")
	assert.False(t, ok)
}

func TestCache_StoreAndLookup(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Store("SM1", "Welcome Ada!")

	reply, ok := cache.Lookup("SM1")
	assert.True(t, ok)
	assert.Equal(t, "Welcome Ada!", reply)
}

func TestCache_EmptyKeyIgnored(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Store("", "reply")

	_, ok := cache.Lookup("")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestCache_Expired(t *testing.T) {
	cache, now := newTestCache(10*time.Minute, 100)
	defer cache.Close()

	cache.Store("SM1", "first")

	*now = now.Add(9 * time.Minute)
	_, ok := cache.Lookup("SM1")
	assert.True(t, ok, "still fresh before TTL")

	*now = now.Add(time.Minute)
	_, ok = cache.Lookup("SM1")
	assert.False(t, ok, "expired at TTL")
}

func TestCache_StoreOverwrites(t *testing.T) {
	cache, now := newTestCache(10*time.Minute, 100)
	defer cache.Close()

	cache.Store("SM1", "first")
	*now = now.Add(8 * time.Minute)
	cache.Store("SM1", "second")
	*now = now.Add(8 * time.Minute)

	// Re-storing refreshed the timestamp
	reply, ok := cache.Lookup("SM1")
	assert.True(t, ok)
	assert.Equal(t, "second", reply)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_EvictionOrder(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Store("first", "1")
	cache.Store("second", "2")
	cache.Store("third", "3")

	// Add fourth - should evict "first" (oldest)
	cache.Store("fourth", "4")

	_, ok := cache.Lookup("first")
	assert.False(t, ok, "first should be evicted")
	for _, k := range []string{"second", "third", "fourth"} {
		_, ok := cache.Lookup(k)
		assert.True(t, ok, k)
	}

	// Refreshing "second" moves it to the back, so "third" goes next
	cache.Store("second", "2b")
	cache.Store("fifth", "5")

	_, ok = cache.Lookup("third")
	assert.False(t, ok, "third should be evicted")
	_, ok = cache.Lookup("second")
	assert.True(t, ok)
}

func TestCache_Cleanup(t *testing.T) {
	cache, now := newTestCache(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Store("cleanup-1", "a")
	cache.Store("cleanup-2", "b")

	*now = now.Add(20 * time.Millisecond)

	// Trigger cleanup manually rather than waiting a minute for the ticker
	cache.runCleanup()

	assert.Zero(t, cache.Len(), "cleanup should remove expired entries from map")
	assert.Zero(t, cache.order.Len())
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	const numGoroutines = 50
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("SM-%d-%d", id, j%10)
				cache.Store(key, "reply")
				cache.Lookup(key)
			}
		}(i)
	}

	wg.Wait()

	// Cache is still functional and within bounds
	cache.Store("final-key", "done")
	reply, ok := cache.Lookup("final-key")
	assert.True(t, ok)
	assert.Equal(t, "done", reply)
	assert.LessOrEqual(t, cache.Len(), 1000)
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	// Multiple closes should not panic
	cache.Close()
	cache.Close()
}
