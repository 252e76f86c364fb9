// Package memory provides in-process adapter implementations.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/vidgate/vidgate/ports"
)

// counter is one fixed-window counter record.
type counter struct {
	windowStart time.Time
	count       int
}

// counterShard is a single shard of the counter store.
type counterShard struct {
	mu       sync.Mutex
	counters map[string]counter
}

// CounterStore is a sharded in-memory fixed-window counter store.
// Sharding keeps unrelated identities off the same lock.
type CounterStore struct {
	shards    []*counterShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// CounterStoreConfig configures the in-memory counter store.
type CounterStoreConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to drop stale windows (default: 5m)
}

// NewCounterStore creates a new sharded in-memory counter store.
func NewCounterStore(cfg CounterStoreConfig) *CounterStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &CounterStore{
		shards:    make([]*counterShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &counterShard{counters: make(map[string]counter)}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// getShard returns the shard for a given key using consistent hashing.
func (s *CounterStore) getShard(key string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Incr bumps the counter for the given window and returns the new value.
// A stored counter from an older window is reset first.
func (s *CounterStore) Incr(ctx context.Context, key string, windowStart time.Time, period time.Duration) (int, error) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	c := shard.counters[key]
	if !c.windowStart.Equal(windowStart) {
		c = counter{windowStart: windowStart}
	}
	c.count++
	shard.counters[key] = c
	return c.count, nil
}

// Decr rolls back one increment for the given window. Counters that have
// already rolled to a new window are left untouched.
func (s *CounterStore) Decr(ctx context.Context, key string, windowStart time.Time) error {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	c, ok := shard.counters[key]
	if !ok || !c.windowStart.Equal(windowStart) || c.count == 0 {
		return nil
	}
	c.count--
	shard.counters[key] = c
	return nil
}

// cleanupLoop periodically removes stale counter entries.
func (s *CounterStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup()
		case <-s.done:
			return
		}
	}
}

// doCleanup drops counters whose window started more than a day ago.
// The longest configured window is the daily one, so anything older can
// never be read again.
func (s *CounterStore) doCleanup() {
	cutoff := time.Now().Add(-24 * time.Hour)

	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, c := range shard.counters {
			if c.windowStart.Before(cutoff) {
				delete(shard.counters, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *CounterStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of entries across all shards (for testing).
func (s *CounterStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.counters)
		shard.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
