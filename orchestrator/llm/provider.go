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

package llm

import (
	"context"
	"fmt"
)

// Provider is the uniform interface every model adapter implements.
// Implementations must be safe for concurrent use.
//
// Adapters enforce the request timeout themselves (HTTP client timeout in
// addition to the caller's context deadline) and translate provider-specific
// failures into *ProviderError values with one of the abstract ErrorKinds.
type Provider interface {
	// Name returns the unique identifier for this provider instance.
	// This is used for routing, logging, and metrics.
	// Example: "anthropic-primary", "openai-backup"
	Name() string

	// Type returns the provider type (e.g., "anthropic", "openai").
	Type() ProviderType

	// Complete generates a completion for the given request.
	// The context carries the per-call timeout set by the stage scheduler.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// HealthCheck verifies the provider is operational.
	// Implementations should check API connectivity and authentication and
	// complete within a reasonable timeout (e.g., 10s).
	HealthCheck(ctx context.Context) (*HealthCheckResult, error)
}

// ProviderConfig contains configuration for creating or updating a provider.
// This is the unified configuration format stored in the database.
type ProviderConfig struct {
	// Name is the unique identifier for this provider instance.
	Name string `json:"name"`

	// Type identifies the provider implementation to use.
	Type ProviderType `json:"type"`

	// APIKey is the authentication key for the provider API.
	APIKey string `json:"api_key,omitempty"`

	// Endpoint is the API endpoint URL. If empty, provider defaults are used.
	Endpoint string `json:"endpoint,omitempty"`

	// Model is the default model to use.
	Model string `json:"model,omitempty"`

	// Enabled indicates if this provider is available for scheduling.
	Enabled bool `json:"enabled"`

	// Weight is the provider's capability weight, used by weighted stage
	// participation rules. Higher means preferred.
	Weight int `json:"weight,omitempty"`

	// TimeoutSeconds is the per-call timeout (0 = scheduler default).
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// Settings contains provider-specific configuration.
	Settings map[string]any `json:"settings,omitempty"`
}

// ValidateConfig checks a provider configuration for structural problems.
func ValidateConfig(config ProviderConfig) error {
	if config.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if config.Type == "" {
		return fmt.Errorf("provider type is required")
	}
	if config.Weight < 0 {
		return fmt.Errorf("weight must be non-negative, got %d", config.Weight)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be non-negative, got %d", config.TimeoutSeconds)
	}
	return nil
}

// Factory creates a Provider instance from its configuration.
type Factory func(config ProviderConfig) (Provider, error)
