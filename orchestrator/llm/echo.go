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
	"time"
)

// EchoProvider is a deterministic in-process provider for local development
// and demos. It answers every prompt with a short canned synthesis that
// embeds the provider name, so multi-model pipelines remain distinguishable.
type EchoProvider struct {
	name  string
	delay time.Duration
}

// NewEchoProvider creates an echo provider with an optional artificial delay
// per call (useful for exercising timeouts and stage fan-out locally).
func NewEchoProvider(name string, delay time.Duration) *EchoProvider {
	return &EchoProvider{name: name, delay: delay}
}

// Name implements Provider.
func (p *EchoProvider) Name() string {
	return p.name
}

// Type implements Provider.
func (p *EchoProvider) Type() ProviderType {
	return ProviderTypeEcho
}

// Complete implements Provider.
func (p *EchoProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, &ProviderError{
				Provider: p.name,
				Kind:     ErrKindTimeout,
				Message:  "call cancelled before completion",
				Cause:    ctx.Err(),
			}
		}
	}

	content := fmt.Sprintf("[%s] %s", p.name, req.Prompt)
	if len(content) > 512 {
		content = content[:512]
	}

	return &CompletionResponse{
		Content: content,
		Model:   "echo-1",
		Usage: UsageStats{
			PromptTokens:     len(req.Prompt) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(req.Prompt) + len(content)) / 4,
		},
		Latency:      time.Since(start),
		FinishReason: "stop",
	}, nil
}

// HealthCheck implements Provider.
func (p *EchoProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	return &HealthCheckResult{
		Status:      HealthStatusHealthy,
		LastChecked: time.Now(),
	}, nil
}

// Verify interface compliance at compile time.
var _ Provider = (*EchoProvider)(nil)
