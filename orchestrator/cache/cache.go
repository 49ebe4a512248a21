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

// Package cache provides the response cache for completed pipeline results.
//
// Two stores are available: a sharded in-memory LRU with TTL expiry for
// single-replica deployments, and a Redis-backed store for sharing results
// across replicas. Values are opaque byte slices (JSON-encoded results);
// the scheduler owns serialization.
//
// There is no single-flight coordination: two identical requests that miss
// concurrently will both compute and the later write wins. Results are
// deterministic enough that this only costs duplicate provider calls.
package cache

import (
	"context"
	"time"
)

// DefaultTTL is the cache entry lifetime when the caller does not override it.
const DefaultTTL = 15 * time.Minute

// Store is the response cache contract.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the cached value for key, or found=false on a miss.
	// An expired entry is a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put stores value under key with the given TTL. ttl <= 0 uses DefaultTTL.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases store resources.
	Close() error
}
