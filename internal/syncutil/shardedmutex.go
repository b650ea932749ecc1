// Package syncutil provides bounded per-key locking primitives. The risk
// engine serializes writes on composite keys like "child/contact-hash",
// an unbounded key space; sharding keeps lock memory fixed.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed pool of mutexes keyed by string. Memory stays
// bounded no matter how many distinct keys pass through, at the cost of
// occasional false sharing when two keys land in the same shard.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex owning key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardFor(key)]
	mu.Lock()
	return mu.Unlock
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
