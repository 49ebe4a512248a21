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
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "ultrai:ratelimit:"

// RedisLimiter is a Redis-backed sliding-window limiter shared across
// replicas. Each admitted request stores one sorted-set member per weight
// unit, so ZCARD reads back the window's accumulated weighted cost.
//
// Redis failures fail open: the request is admitted and the outage logged.
// Admission control protects capacity; it must not become an outage of its
// own.
type RedisLimiter struct {
	client *redis.Client
	config Config
	logger *log.Logger
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(redisURL string, config Config) (*RedisLimiter, error) {
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

	return NewRedisLimiterWithClient(client, config), nil
}

// NewRedisLimiterWithClient wraps an existing client (used by tests).
func NewRedisLimiterWithClient(client *redis.Client, config Config) *RedisLimiter {
	config.normalize()
	return &RedisLimiter{
		client: client,
		config: config,
		logger: log.New(os.Stdout, "[RATELIMIT] ", log.LstdFlags),
	}
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, caller, tier, path, method string) (Decision, error) {
	weight := l.config.weightFor(method)
	quota := l.config.quotaFor(tier)
	key := redisKeyPrefix + windowKey(caller, tier, path)
	now := time.Now()
	minScore := fmt.Sprintf("%d", now.Add(-l.config.Window).UnixNano())

	// Prune the window and read its cost in one round trip
	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", minScore)
	cardCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Printf("Redis check failed for %s, failing open: %v", caller, err)
		return Decision{Allowed: true, Remaining: quota}, nil
	}

	cost := int(cardCmd.Val())
	if cost+weight > quota {
		return Decision{Allowed: false, RetryAfter: l.retryAfter(ctx, key, now)}, nil
	}

	// Admit: store one member per weight unit
	members := make([]*redis.Z, weight)
	for i := 0; i < weight; i++ {
		members[i] = &redis.Z{
			Score:  float64(now.UnixNano()),
			Member: fmt.Sprintf("%d-%d", now.UnixNano(), i),
		}
	}

	pipe = l.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, 2*l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Printf("Redis record failed for %s, failing open: %v", caller, err)
	}

	return Decision{Allowed: true, Remaining: quota - cost - weight}, nil
}

// retryAfter derives the wait until the oldest window entry expires.
func (l *RedisLimiter) retryAfter(ctx context.Context, key string, now time.Time) time.Duration {
	retryAfter := l.config.Window

	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		oldestAt := time.Unix(0, int64(oldest[0].Score))
		retryAfter = oldestAt.Add(l.config.Window).Sub(now)
	}

	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return retryAfter
}

// Close implements Limiter.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Verify interface compliance at compile time.
var _ Limiter = (*RedisLimiter)(nil)
