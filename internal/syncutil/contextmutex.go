package syncutil

import (
	"context"
	"sync"
)

// ContextShardedMutex is the cancellable sibling of ShardedMutex. Each shard
// is a channel-based mutex, so a caller waiting on a hot profile key can bail
// out when its request context is cancelled instead of queueing forever.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex creates a context-aware sharded mutex. The zero
// value is also usable.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			ch := make(chan struct{}, 1)
			ch <- struct{}{} // start unlocked
			m.shards[i] = ch
		}
	})
}

// LockContext acquires the mutex owning key, or gives up when ctx is done.
// On success it returns the unlock function, which the caller must invoke.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	ch := m.shards[shardFor(key)]

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
