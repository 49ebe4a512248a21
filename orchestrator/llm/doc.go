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

// Package llm defines the uniform model adapter contract and the provider
// registry that the stage scheduler draws from.
//
// Every provider implements the Provider interface: Complete for one
// prompt-in, completion-out call, and HealthCheck for connectivity probes.
// Adapters translate provider-specific failures into *ProviderError values
// carrying an abstract ErrorKind (timeout, rate_limit, authentication_error,
// server_error, invalid_response), so the scheduler and circuit breaker never
// see provider-specific codes.
//
// The Registry holds provider configurations and instantiates adapters
// lazily through per-type factories. With PostgreSQL storage attached,
// configurations persist across restarts and sync between replicas.
package llm
