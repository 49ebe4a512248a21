// Copyright 2025 UltrAI
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	// shardCount spreads lock contention across independent shards.
	shardCount = 16

	// DefaultMaxEntries is the global entry cap for the in-memory store.
	DefaultMaxEntries = 4096

	// defaultSweepInterval is how often the background sweep evicts expired entries.
	defaultSweepInterval = time.Minute
)

// memoryEntry is one cached value plus its LRU list element.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// shard is one lock domain of the in-memory store. LRU order is tracked per
// shard; the front of the list is most recently used.
type shard struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	max     int
}

// MemoryStore is a sharded in-memory LRU cache with TTL expiry.
type MemoryStore struct {
	shards     [shardCount]*shard
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// MemoryConfig tunes the in-memory store.
type MemoryConfig struct {
	// MaxEntries is the global entry cap, split evenly across shards
	// (default 4096).
	MaxEntries int

	// DefaultTTL applies when Put is called with ttl <= 0 (default 15m).
	DefaultTTL time.Duration

	// SweepInterval is the background expiry sweep period (default 1m).
	SweepInterval time.Duration
}

// NewMemoryStore creates an in-memory store and starts its expiry sweeper.
func NewMemoryStore(config MemoryConfig) *MemoryStore {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaultSweepInterval
	}

	perShard := config.MaxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}

	s := &MemoryStore{
		defaultTTL: config.DefaultTTL,
		stop:       make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			entries: make(map[string]*list.Element),
			lru:     list.New(),
			max:     perShard,
		}
	}

	go s.sweepLoop(config.SweepInterval)
	return s
}

// shardFor maps a key to its shard by FNV-1a hash.
func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Get implements Store. Expired entries are evicted on read.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	elem, ok := sh.entries[key]
	if !ok {
		return nil, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		sh.lru.Remove(elem)
		delete(sh.entries, key)
		return nil, false, nil
	}

	sh.lru.MoveToFront(elem)

	// Copy so callers cannot mutate the cached value
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Put implements Store. The least recently used entry is evicted when the
// shard is full.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if elem, ok := sh.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = time.Now().Add(ttl)
		sh.lru.MoveToFront(elem)
		return nil
	}

	for sh.lru.Len() >= sh.max {
		oldest := sh.lru.Back()
		if oldest == nil {
			break
		}
		sh.lru.Remove(oldest)
		delete(sh.entries, oldest.Value.(*memoryEntry).key)
	}

	elem := sh.lru.PushFront(&memoryEntry{
		key:       key,
		value:     stored,
		expiresAt: time.Now().Add(ttl),
	})
	sh.entries[key] = elem
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if elem, ok := sh.entries[key]; ok {
		sh.lru.Remove(elem)
		delete(sh.entries, key)
	}
	return nil
}

// Len returns the total number of live entries across shards.
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += sh.lru.Len()
		sh.mu.Unlock()
	}
	return total
}

// Close implements Store. It stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}

// sweepLoop periodically evicts expired entries so idle keys do not pin memory.
func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for elem := sh.lru.Back(); elem != nil; {
			prev := elem.Prev()
			entry := elem.Value.(*memoryEntry)
			if now.After(entry.expiresAt) {
				sh.lru.Remove(elem)
				delete(sh.entries, entry.key)
			}
			elem = prev
		}
		sh.mu.Unlock()
	}
}

// Verify interface compliance at compile time.
var _ Store = (*MemoryStore)(nil)
