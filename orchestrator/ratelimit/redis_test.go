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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisLimiter(t *testing.T, config Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLimiterWithClient(client, config)
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestRedisLimiterAdmitsUnderQuota(t *testing.T) {
	l, _ := newTestRedisLimiter(t, Config{Quotas: map[string]int{"t": 5}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "alice", "t", "/p", "GET")
		if err != nil {
			t.Fatalf("Check() error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied under quota", i)
		}
	}

	d, _ := l.Check(ctx, "alice", "t", "/p", "GET")
	if d.Allowed {
		t.Fatal("expected denial over quota")
	}
	if d.RetryAfter <= 0 {
		t.Error("expected positive RetryAfter on denial")
	}
}

func TestRedisLimiterWeightedCost(t *testing.T) {
	l, _ := newTestRedisLimiter(t, Config{Quotas: map[string]int{"t": 10}})
	ctx := context.Background()

	// Two POSTs at weight 5 exhaust the quota of 10
	for i := 0; i < 2; i++ {
		if d, _ := l.Check(ctx, "a", "t", "/p", "POST"); !d.Allowed {
			t.Fatalf("POST %d denied under quota", i)
		}
	}
	if d, _ := l.Check(ctx, "a", "t", "/p", "GET"); d.Allowed {
		t.Error("expected GET denied, window is full")
	}
}

func TestRedisLimiterWindowSlides(t *testing.T) {
	l, mr := newTestRedisLimiter(t, Config{
		Window: 10 * time.Second,
		Quotas: map[string]int{"t": 1},
	})
	ctx := context.Background()

	if d, _ := l.Check(ctx, "a", "t", "/p", "GET"); !d.Allowed {
		t.Fatal("first request denied")
	}
	if d, _ := l.Check(ctx, "a", "t", "/p", "GET"); d.Allowed {
		t.Fatal("second request admitted over quota")
	}

	// Window pruning uses real timestamps; fast-forward miniredis for the
	// key TTL and wait out the window score range
	mr.FastForward(25 * time.Second)

	if d, _ := l.Check(ctx, "a", "t", "/p", "GET"); !d.Allowed {
		t.Error("expected admission after window expiry")
	}
}

func TestRedisLimiterIndependentCallers(t *testing.T) {
	l, _ := newTestRedisLimiter(t, Config{Quotas: map[string]int{"t": 1}})
	ctx := context.Background()

	if d, _ := l.Check(ctx, "a", "t", "/p", "GET"); !d.Allowed {
		t.Fatal("denied")
	}
	if d, _ := l.Check(ctx, "b", "t", "/p", "GET"); !d.Allowed {
		t.Error("expected separate window per caller")
	}
}

func TestRedisLimiterFailOpen(t *testing.T) {
	l, mr := newTestRedisLimiter(t, Config{Quotas: map[string]int{"t": 1}})
	ctx := context.Background()

	mr.Close()

	// Redis down: every request is admitted
	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "a", "t", "/p", "POST")
		if err != nil {
			t.Fatalf("Check() error: %v", err)
		}
		if !d.Allowed {
			t.Fatal("expected fail-open admission during outage")
		}
	}
}
