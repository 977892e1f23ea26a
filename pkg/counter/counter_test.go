package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBump(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	t.Run("admits up to the limit", func(t *testing.T) {
		total, applied, err := store.Bump(ctx, "k1", 1, 2, true, time.Minute)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(1), total)

		total, applied, err = store.Bump(ctx, "k1", 1, 2, true, time.Minute)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(2), total)
	})

	t.Run("enforced bump past the limit is not applied", func(t *testing.T) {
		total, applied, err := store.Bump(ctx, "k1", 1, 2, true, time.Minute)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, int64(2), total)

		peeked, err := store.Peek(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), peeked)
	})

	t.Run("unenforced bump passes the limit", func(t *testing.T) {
		total, applied, err := store.Bump(ctx, "k1", 5, 2, false, time.Minute)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(7), total)
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, _, err := store.Bump(ctx, "short", 1, 10, true, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	total, err := store.Peek(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	// A bump after expiry starts a fresh counter.
	total, applied, err := store.Bump(ctx, "short", 1, 10, true, time.Minute)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(1), total)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	store := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := store.Bump(ctx, "k", 1, 10, true, time.Minute)
	assert.Error(t, err)

	total, err := store.Peek(context.Background(), "k")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestMemoryStoreConcurrentBumps(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	const workers = 50
	const perWorker = 20
	const limit = workers * perWorker / 2

	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, applied, err := store.Bump(ctx, "shared", 1, limit, true, time.Minute)
				if err != nil {
					t.Error(err)
					return
				}
				if applied {
					mu.Lock()
					appliedCount++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// Exactly limit increments must have landed: no lost updates, no
	// admissions past the limit.
	assert.Equal(t, limit, appliedCount)
	total, err := store.Peek(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), total)
}
