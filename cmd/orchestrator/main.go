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

// Package main is the entry point for the UltrAI Orchestrator service.
//
// The Orchestrator runs multi-model analysis pipelines:
// - Schedules pattern-driven stages across selected LLM providers
// - Shields failing providers with per-provider circuit breakers
// - Caches finished results keyed by request fingerprint
// - Streams per-request progress events over SSE
// - Enforces weighted per-caller rate limits
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string (optional)
//	REDIS_URL - Redis URL for shared cache and rate limiting (optional)
//	ANTHROPIC_API_KEY - Anthropic API key (optional)
//	OPENAI_API_KEY - OpenAI API key (optional)
//	JWT_SECRET - HMAC secret for tier and bypass claims (optional)
//	RATE_LIMIT_BYPASS_TOKENS - comma-separated static bypass tokens (optional)
//	PATTERNS_FILE - YAML file with additional analysis patterns (optional)
package main

import (
	"ultrai/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
