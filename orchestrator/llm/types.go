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

// Package llm provides the uniform adapter contract for external model
// providers. The orchestrator never branches on provider identity; it only
// inspects the abstract error kind of a failed call, so every adapter must
// translate provider-specific failures into one of the kinds defined here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProviderType identifies the type of model provider.
// Standard types are defined as constants, but custom types can be used
// for third-party or self-hosted providers.
type ProviderType string

// Standard provider types supported out of the box.
const (
	// ProviderTypeAnthropic represents Anthropic's Claude models.
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeOpenAI represents OpenAI's GPT models.
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeEcho represents the built-in deterministic echo provider
	// used for local development and tests.
	ProviderTypeEcho ProviderType = "echo"

	// ProviderTypeCustom represents a custom/third-party provider.
	ProviderTypeCustom ProviderType = "custom"
)

// CompletionRequest encapsulates all parameters for a model completion call.
// This is the unified request type used across all providers.
type CompletionRequest struct {
	// Prompt is the input text for this call.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system message that sets context/behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits the maximum number of tokens in the response.
	// If 0, provider defaults are used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 = deterministic). Nil leaves
	// the provider's default in effect.
	Temperature *float64 `json:"temperature,omitempty"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// StopSequences are strings that cause generation to stop.
	StopSequences []string `json:"stop_sequences,omitempty"`

	// Metadata contains provider-specific options.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CompletionResponse contains the result of a model completion call.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`

	// FinishReason indicates why generation stopped.
	// Common values: "stop", "max_tokens", "content_filter".
	FinishReason string `json:"finish_reason,omitempty"`
}

// UsageStats tracks token usage for monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HealthStatus describes the outcome of a provider health probe.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult contains the result of a provider health probe.
type HealthCheckResult struct {
	Status      HealthStatus  `json:"status"`
	Latency     time.Duration `json:"latency"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// ErrorKind is the abstract classification of an adapter failure. The stage
// scheduler consumes only this classification, never provider-specific codes.
type ErrorKind string

const (
	// ErrKindTimeout indicates the call exceeded its enforced timeout.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindRateLimited indicates the provider rejected the call for quota
	// reasons (HTTP 429 or equivalent).
	ErrKindRateLimited ErrorKind = "rate_limit"

	// ErrKindAuth indicates an authentication or authorization failure.
	ErrKindAuth ErrorKind = "authentication_error"

	// ErrKindServer indicates a transient provider-side server error.
	ErrKindServer ErrorKind = "server_error"

	// ErrKindInvalidResponse indicates the provider returned a payload the
	// adapter could not interpret.
	ErrKindInvalidResponse ErrorKind = "invalid_response"
)

// ProviderError represents a classified error from a model provider.
type ProviderError struct {
	// Provider is the name of the provider that returned the error.
	Provider string `json:"provider"`

	// Kind is the abstract error classification.
	Kind ErrorKind `json:"kind"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code, if applicable.
	StatusCode int `json:"status_code,omitempty"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider string, kind ErrorKind, message string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Message:  message,
	}
}

// Classify maps any error returned by an adapter call to an abstract
// ErrorKind. Context deadline expiry counts as a timeout even when the
// adapter did not wrap it, so a slow provider is always recorded as such.
func Classify(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindServer
}

// KindFromStatus maps an HTTP status code to an ErrorKind. Adapters use this
// as the default translation for non-2xx responses.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth
	case status == 429:
		return ErrKindRateLimited
	case status == 408:
		return ErrKindTimeout
	case status >= 500:
		return ErrKindServer
	default:
		return ErrKindInvalidResponse
	}
}
