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
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisKeyPrefix namespaces cache keys so the limiter and cache can share
// one Redis database.
const redisKeyPrefix = "ultrai:cache:"

// RedisStore is a Redis-backed response cache shared across replicas.
//
// Redis failures are treated as cache misses (fail-open): the pipeline
// recomputes rather than erroring, and the failure is logged.
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *log.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
// redisURL uses the redis://host:port/db format.
func NewRedisStore(redisURL string, defaultTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	return &RedisStore{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     log.New(os.Stdout, "[CACHE] ", log.LstdFlags),
	}, nil
}

// NewRedisStoreWithClient wraps an existing client (used by tests).
func NewRedisStoreWithClient(client *redis.Client, defaultTTL time.Duration) *RedisStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &RedisStore{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     log.New(os.Stdout, "[CACHE] ", log.LstdFlags),
	}
}

// Get implements Store. Redis errors are logged and reported as misses.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Printf("Redis GET failed, treating as miss: %v", err)
		return nil, false, nil
	}
	return value, true, nil
}

// Put implements Store. Redis errors are logged and swallowed.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		s.logger.Printf("Redis SET failed, result not cached: %v", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		s.logger.Printf("Redis DEL failed: %v", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Verify interface compliance at compile time.
var _ Store = (*RedisStore)(nil)
