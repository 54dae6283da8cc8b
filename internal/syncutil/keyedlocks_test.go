package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocks_LockUnlock(t *testing.T) {
	k := NewKeyedLocks(0)
	assert.Len(t, k.shards, DefaultShards)

	unlock, err := k.Lock(context.Background(), "call-1")
	require.NoError(t, err)
	unlock()

	unlock, err = k.Lock(context.Background(), "call-1")
	require.NoError(t, err)
	unlock()
}

func TestKeyedLocks_MutualExclusion(t *testing.T) {
	k := NewKeyedLocks(8)
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	const n = 100
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "counter")
			if !assert.NoError(t, err) {
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, n, counter)
}

func TestKeyedLocks_ContextDeadline(t *testing.T) {
	k := NewKeyedLocks(4)

	unlock, err := k.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedLocks_TryLock(t *testing.T) {
	k := NewKeyedLocks(1)

	unlock, ok := k.TryLock("a")
	require.True(t, ok)

	_, ok = k.TryLock("b")
	assert.False(t, ok, "single shard is shared by every key")

	unlock()
	unlock, ok = k.TryLock("b")
	require.True(t, ok)
	unlock()
}

func TestKeyedLocks_UnlockWakesWaiter(t *testing.T) {
	k := NewKeyedLocks(4)
	ctx := context.Background()

	unlock, err := k.Lock(ctx, "relay")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := k.Lock(ctx, "relay")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired the lock before release")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter did not acquire the lock after release")
	}
}
