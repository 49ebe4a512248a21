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

package orchestrator

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"ultrai/platform/common/usage"
	"ultrai/platform/orchestrator/breaker"
	"ultrai/platform/orchestrator/cache"
	"ultrai/platform/orchestrator/llm"
	"ultrai/platform/orchestrator/llm/anthropic"
	"ultrai/platform/orchestrator/llm/openai"
	"ultrai/platform/orchestrator/ratelimit"
)

// Run is the exported entry point for the orchestrator service.
//
// It wires the provider registry, circuit breakers, response cache, rate
// limiter, pattern set, stage scheduler, and event hub, then serves HTTP
// until SIGINT or SIGTERM.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8080)
//   - DATABASE_URL: PostgreSQL connection string for provider persistence (optional)
//   - REDIS_URL: Redis URL for shared cache and rate limiting (optional)
//   - ANTHROPIC_API_KEY: Anthropic API key (optional)
//   - OPENAI_API_KEY: OpenAI API key (optional)
//   - JWT_SECRET: HMAC secret for tier and bypass claims (optional)
//   - RATE_LIMIT_BYPASS_TOKENS: comma-separated static bypass tokens (optional)
//   - PATTERNS_FILE: YAML file with additional analysis patterns (optional)
func Run() {
	log.Println("Starting UltrAI Orchestrator...")

	ctx := context.Background()

	db := openDatabase(ctx)
	if db != nil {
		defer db.Close()
	}

	registry := buildRegistry(ctx, db)
	defer registry.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		OnStateChange: breakerMetricsHook,
	})

	store := buildCacheStore()
	if store != nil {
		defer store.Close()
	}

	limiter, bypass := buildRateLimiter()
	if limiter != nil {
		defer limiter.Close()
	}

	patterns, err := buildPatterns()
	if err != nil {
		log.Fatalf("Failed to load analysis patterns: %v", err)
	}

	hub := NewEventHub()
	scheduler := NewScheduler(SchedulerConfig{
		Usage: usage.NewRecorder(db),
	}, registry, breakers, store, patterns, hub)
	server := NewServer(scheduler, hub, registry, breakers, patterns, limiter, bypass)

	registry.StartPeriodicHealthCheck(ctx, 60*time.Second)

	port := getEnvDefault("PORT", "8080")
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Orchestrator listening on port %s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// openDatabase connects to Postgres when DATABASE_URL is set. Returns nil
// when unconfigured or unreachable; persistence and usage metering then
// stay disabled.
func openDatabase(ctx context.Context) *sql.DB {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Printf("Database unreachable, persistence and usage metering disabled: %v", err)
		db.Close()
		return nil
	}
	return db
}

// buildRegistry creates the provider registry with factories for every
// supported type, Postgres persistence when available, and providers for
// every API key present in the environment.
func buildRegistry(ctx context.Context, db *sql.DB) *llm.Registry {
	var opts []llm.RegistryOption
	if db != nil {
		opts = append(opts, llm.WithStorage(llm.NewPostgresStorage(db)))
	}

	registry := llm.NewRegistry(opts...)

	registry.RegisterFactory(llm.ProviderTypeAnthropic, func(config llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.NewProvider(anthropic.Config{
			Name:    config.Name,
			APIKey:  config.APIKey,
			BaseURL: config.Endpoint,
			Model:   config.Model,
		})
	})
	registry.RegisterFactory(llm.ProviderTypeOpenAI, func(config llm.ProviderConfig) (llm.Provider, error) {
		return openai.NewProvider(openai.Config{
			Name:    config.Name,
			APIKey:  config.APIKey,
			BaseURL: config.Endpoint,
			Model:   config.Model,
		})
	})
	registry.RegisterFactory(llm.ProviderTypeEcho, func(config llm.ProviderConfig) (llm.Provider, error) {
		return llm.NewEchoProvider(config.Name, 0), nil
	})

	if err := registry.ReloadFromStorage(ctx); err != nil {
		log.Printf("Failed to reload providers from storage: %v", err)
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && !registry.Has("anthropic") {
		register(ctx, registry, &llm.ProviderConfig{
			Name:    "anthropic",
			Type:    llm.ProviderTypeAnthropic,
			APIKey:  key,
			Enabled: true,
			Weight:  10,
		})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && !registry.Has("openai") {
		register(ctx, registry, &llm.ProviderConfig{
			Name:    "openai",
			Type:    llm.ProviderTypeOpenAI,
			APIKey:  key,
			Enabled: true,
			Weight:  10,
		})
	}
	if registry.Count() == 0 {
		log.Println("No provider API keys configured, registering echo provider for local use")
		register(ctx, registry, &llm.ProviderConfig{
			Name:    "echo",
			Type:    llm.ProviderTypeEcho,
			Enabled: true,
			Weight:  1,
		})
	}

	return registry
}

func register(ctx context.Context, registry *llm.Registry, config *llm.ProviderConfig) {
	if err := registry.Register(ctx, config); err != nil {
		log.Printf("Failed to register provider %s: %v", config.Name, err)
	}
}

// buildCacheStore prefers shared Redis, falling back to the in-process store.
func buildCacheStore() cache.Store {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		store, err := cache.NewRedisStore(redisURL, cache.DefaultTTL)
		if err == nil {
			log.Println("Response cache: redis")
			return store
		}
		log.Printf("Redis cache unavailable, using in-process cache: %v", err)
	}
	log.Println("Response cache: in-process")
	return cache.NewMemoryStore(cache.MemoryConfig{})
}

// buildRateLimiter prefers shared Redis state, falling back to per-process
// counters.
func buildRateLimiter() (ratelimit.Limiter, *ratelimit.Bypass) {
	bypass := ratelimit.NewBypass(
		[]byte(os.Getenv("JWT_SECRET")),
		splitNonEmpty(os.Getenv("RATE_LIMIT_BYPASS_TOKENS")),
	)

	config := ratelimit.Config{Quotas: ratelimit.DefaultQuotas()}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		limiter, err := ratelimit.NewRedisLimiter(redisURL, config)
		if err == nil {
			log.Println("Rate limiter: redis")
			return limiter, bypass
		}
		log.Printf("Redis rate limiter unavailable, using in-process limiter: %v", err)
	}
	log.Println("Rate limiter: in-process")
	return ratelimit.NewMemoryLimiter(config), bypass
}

// buildPatterns loads the built-in patterns plus any configured pattern file.
func buildPatterns() (*PatternSet, error) {
	patterns, err := NewPatternSet(BuiltinPatterns()...)
	if err != nil {
		return nil, err
	}

	if file := os.Getenv("PATTERNS_FILE"); file != "" {
		loaded, err := LoadPatternFile(file)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			if err := patterns.Register(p); err != nil {
				return nil, err
			}
		}
		log.Printf("Loaded %d patterns from %s", len(loaded), file)
	}

	return patterns, nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
