// Package syncutil holds small concurrency helpers.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used when none is given.
const DefaultShards = 256

// KeyedLocks is a fixed pool of channel-based mutexes addressed by key.
// Keys that hash to the same shard share a lock, so memory stays bounded
// no matter how many keys are seen. Waiters give up when their context ends.
type KeyedLocks struct {
	shards []chan struct{}
}

// NewKeyedLocks creates a pool with n shards; n <= 0 uses DefaultShards.
func NewKeyedLocks(n int) *KeyedLocks {
	if n <= 0 {
		n = DefaultShards
	}
	k := &KeyedLocks{shards: make([]chan struct{}, n)}
	for i := range k.shards {
		k.shards[i] = make(chan struct{}, 1)
	}
	return k
}

// Lock acquires the lock for key. On success it returns the unlock func,
// which must be called exactly once. If ctx ends first it returns ctx.Err().
func (k *KeyedLocks) Lock(ctx context.Context, key string) (func(), error) {
	shard := k.shards[k.index(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the lock for key only if it is free.
func (k *KeyedLocks) TryLock(key string) (func(), bool) {
	shard := k.shards[k.index(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, true
	default:
		return nil, false
	}
}

func (k *KeyedLocks) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(k.shards)))
}
