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

package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const limiterShards = 16

// event is one admitted request in a window.
type event struct {
	at     time.Time
	weight int
}

// limiterShard is one lock domain of the in-memory limiter.
type limiterShard struct {
	mu      sync.Mutex
	windows map[string][]event
}

// MemoryLimiter is a sharded in-memory sliding-window limiter for
// single-replica deployments.
type MemoryLimiter struct {
	config Config
	shards [limiterShards]*limiterShard
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(config Config) *MemoryLimiter {
	config.normalize()
	l := &MemoryLimiter{config: config}
	for i := range l.shards {
		l.shards[i] = &limiterShard{windows: make(map[string][]event)}
	}
	return l
}

func (l *MemoryLimiter) shardFor(key string) *limiterShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%limiterShards]
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(ctx context.Context, caller, tier, path, method string) (Decision, error) {
	weight := l.config.weightFor(method)
	quota := l.config.quotaFor(tier)
	key := windowKey(caller, tier, path)
	now := time.Now()
	cutoff := now.Add(-l.config.Window)

	sh := l.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	events := sh.windows[key]

	// Drop events that slid out of the window
	live := events[:0]
	for _, e := range events {
		if e.at.After(cutoff) {
			live = append(live, e)
		}
	}

	cost := 0
	for _, e := range live {
		cost += e.weight
	}

	if cost+weight > quota {
		sh.windows[key] = live

		retryAfter := l.config.Window
		if len(live) > 0 {
			retryAfter = live[0].at.Add(l.config.Window).Sub(now)
		}
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	sh.windows[key] = append(live, event{at: now, weight: weight})
	return Decision{Allowed: true, Remaining: quota - cost - weight}, nil
}

// Close implements Limiter.
func (l *MemoryLimiter) Close() error {
	return nil
}

// Verify interface compliance at compile time.
var _ Limiter = (*MemoryLimiter)(nil)
