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

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ultrai/platform/orchestrator/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewProvider(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewProvider() error: %v", err)
	}
	return p, server
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewProvider(Config{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestNewProviderDefaults(t *testing.T) {
	p, err := NewProvider(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewProvider() error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}
	if p.Type() != llm.ProviderTypeAnthropic {
		t.Errorf("Type() = %q", p.Type())
	}
	if p.baseURL != DefaultBaseURL || p.model != DefaultModel {
		t.Errorf("defaults not applied: baseURL=%q model=%q", p.baseURL, p.model)
	}
}

func TestComplete(t *testing.T) {
	var gotReq anthropicRequest
	var gotHeaders http.Header

	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"model":       "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"content": []map[string]string{
				{"type": "text", "text": "Hello, "},
				{"type": "text", "text": "world"},
			},
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 5},
		})
	})

	temperature := 0.3
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Prompt:       "greet",
		SystemPrompt: "be brief",
		MaxTokens:    128,
		Temperature:  &temperature,
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if resp.Content != "Hello, world" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("TotalTokens = %d, want 17", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}

	if gotHeaders.Get("x-api-key") != "test-key" {
		t.Error("x-api-key header not set")
	}
	if gotHeaders.Get("anthropic-version") != DefaultAPIVersion {
		t.Error("anthropic-version header not set")
	}
	if gotReq.MaxTokens != 128 {
		t.Errorf("request MaxTokens = %d, want 128", gotReq.MaxTokens)
	}
	if gotReq.System != "be brief" {
		t.Errorf("request System = %q", gotReq.System)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0.3 {
		t.Errorf("request Temperature = %v, want 0.3", gotReq.Temperature)
	}
}

func TestCompleteUnsetTemperatureOmitted(t *testing.T) {
	var gotBody map[string]any

	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "msg_1",
			"model":   "claude-3-5-sonnet-20241022",
			"content": []map[string]string{{"type": "text", "text": "ok"}},
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	})

	if _, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "greet"}); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	// The provider default must stay in effect when no temperature is set
	if _, present := gotBody["temperature"]; present {
		t.Errorf("temperature sent as %v, want field omitted", gotBody["temperature"])
	}
}

func TestCompleteAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind llm.ErrorKind
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"type":"rate_limit_error","message":"quota exceeded"}}`,
			wantKind: llm.ErrKindRateLimited,
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"type":"authentication_error","message":"invalid api key"}}`,
			wantKind: llm.ErrKindAuth,
		},
		{
			name:     "overloaded",
			status:   http.StatusServiceUnavailable,
			body:     `{"error":{"type":"overloaded_error","message":"overloaded"}}`,
			wantKind: llm.ErrKindServer,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":{"type":"invalid_request_error","message":"bad prompt"}}`,
			wantKind: llm.ErrKindInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *llm.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *llm.ProviderError, got %T", err)
			}
			if pe.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", pe.Kind, tt.wantKind)
			}
			if pe.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", pe.StatusCode, tt.status)
			}
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, llm.CompletionRequest{Prompt: "slow"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.Kind != llm.ErrKindTimeout {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "msg_1",
			"model":   "claude-3-5-sonnet-20241022",
			"content": []map[string]string{},
			"usage":   map[string]int{},
		})
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.Kind != llm.ErrKindInvalidResponse {
		t.Errorf("expected invalid_response kind, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"model":       "claude-3-5-sonnet-20241022",
			"stop_reason": "max_tokens",
			"content":     []map[string]string{{"type": "text", "text": "p"}},
			"usage":       map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	})

	result, err := p.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck() error: %v", err)
	}
	if result.Status != llm.HealthStatusHealthy {
		t.Errorf("Status = %q, want healthy", result.Status)
	}
}

func TestHealthCheckRateLimitedIsDegraded(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"quota"}}`))
	})

	result, err := p.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck() error: %v", err)
	}
	if result.Status != llm.HealthStatusDegraded {
		t.Errorf("Status = %q, want degraded", result.Status)
	}
}

func TestHealthCheckUnhealthy(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"bad key"}}`))
	})

	result, err := p.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck() error: %v", err)
	}
	if result.Status != llm.HealthStatusUnhealthy {
		t.Errorf("Status = %q, want unhealthy", result.Status)
	}
}
