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

/*
Package orchestrator runs multi-model analysis pipelines - the UltrAI
engine that fans one prompt out across several LLM providers, refines the
answers stage by stage, and synthesizes a single final result.

# Overview

A submitted analysis names a prompt, a set of registered providers, and an
analysis pattern. The orchestrator:

  - Schedules the pattern's stages in order, fanning each stage out across
    its participating models with bounded concurrency
  - Shields failing providers with per-provider circuit breakers
  - Streams per-request progress events to any number of subscribers
  - Caches finished results keyed by a request fingerprint
  - Enforces weighted per-caller rate limits at the HTTP edge

# Analysis Patterns

Patterns are configuration data, not code. Each stage declares who runs it
(all selected models or the lead model), what it sees (the raw prompt, its
own prior answer, or all prior answers labeled by source), and whether it
is required. Four patterns ship built in: four-stage, critique, fact-check,
and single-pass. Additional patterns load from YAML files:

	apiVersion: ultrai.io/v1
	kind: AnalysisPattern
	metadata:
	  name: debate
	spec:
	  stages:
	    - name: open
	      participants: all
	      input: raw
	      required: true

# Stage Scheduling

The Scheduler owns the pipeline. A stage ends in one of three ways: every
eligible model responded, some failed or were skipped on an open circuit
(the run continues degraded), or a required stage produced nothing and the
pipeline fails with insufficient_models. Degraded results are never cached.
The final answer is the last stage's lead output.

Provider failures are classified into abstract error kinds (timeout,
rate_limit, authentication_error, server_error, invalid_response); the
scheduler never branches on provider identity.

# Progress Events

Every request gets a correlation id and an event stream. Subscribers attach
at any point and see events from their join point forward; a stream always
ends with exactly one terminal event (pipeline_complete or
pipeline_failed), which late subscribers also receive.

# HTTP API

	POST /api/analyze              - submit, returns 202 with correlation_id
	GET  /api/analyze/{id}         - poll the outcome
	GET  /api/analyze/{id}/events  - SSE progress stream
	POST /api/analyze/{id}/cancel  - stop a running pipeline
	GET  /api/patterns             - list analysis patterns
	GET  /api/providers            - provider health and circuit state
	GET  /health                   - liveness
	GET  /metrics                  - Prometheus metrics

# Usage

	// Start the Orchestrator service
	orchestrator.Run()

	// The Orchestrator reads configuration from environment variables:
	// PORT              - HTTP server port (default: 8080)
	// DATABASE_URL      - PostgreSQL connection string (optional)
	// REDIS_URL         - Redis URL for shared cache and rate limits (optional)
	// ANTHROPIC_API_KEY - Anthropic API key (optional)
	// OPENAI_API_KEY    - OpenAI API key (optional)
	// JWT_SECRET        - HMAC secret for tier and bypass claims (optional)
	// PATTERNS_FILE     - YAML file with additional patterns (optional)
*/
package orchestrator
