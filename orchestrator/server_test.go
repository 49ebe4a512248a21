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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ultrai/platform/orchestrator/ratelimit"
)

func newTestServer(t *testing.T, limiter ratelimit.Limiter, bypass *ratelimit.Bypass, providers ...*countingProvider) (*Server, *testEngine) {
	t.Helper()
	if len(providers) == 0 {
		providers = []*countingProvider{{name: "alpha"}}
	}
	e := newTestEngine(t, nil, providers...)
	patterns, _ := NewPatternSet(BuiltinPatterns()...)
	server := NewServer(e.scheduler, e.hub, e.registry, e.breakers, patterns, limiter, bypass)
	return server, e
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("undecodable response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func waitDone(t *testing.T, e *testEngine, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, done, _ := e.scheduler.Result(id)
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline %s never finished", id)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	server, e := newTestServer(t, nil, nil)
	router := server.Router()

	rec, body := doJSON(t, router, "POST", "/api/analyze",
		`{"prompt":"why is the sky blue","models":["alpha"],"pattern":"single-pass"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	id, _ := body["correlation_id"].(string)
	if id == "" {
		t.Fatal("missing correlation_id")
	}
	waitDone(t, e, id)

	rec, body = doJSON(t, router, "GET", "/api/analyze/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d", rec.Code)
	}
	if body["status"] != "complete" {
		t.Errorf("status = %v, want complete", body["status"])
	}
	result, _ := body["result"].(map[string]any)
	if result == nil || result["result"] != "[alpha] why is the sky blue" {
		t.Errorf("result = %v", result)
	}
}

func TestAnalyzeEndpointErrors(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)
	router := server.Router()

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"empty prompt", `{"models":["alpha"],"pattern":"single-pass"}`, http.StatusBadRequest},
		{"unknown pattern", `{"prompt":"p","models":["alpha"],"pattern":"nope"}`, http.StatusBadRequest},
		{"unknown model", `{"prompt":"p","models":["ghost"],"pattern":"single-pass"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, router, "POST", "/api/analyze", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if body["error"] == nil {
				t.Error("missing error body")
			}
		})
	}
}

func TestResultEndpointUnknownID(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)
	router := server.Router()

	rec, _ := doJSON(t, router, "GET", "/api/analyze/unknown-id", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, router, "POST", "/api/analyze/unknown-id/cancel", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, router, "GET", "/api/analyze/unknown-id/events", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("events status = %d, want 404", rec.Code)
	}
}

func TestEventsEndpointStreamsSSE(t *testing.T) {
	server, e := newTestServer(t, nil, nil)
	router := server.Router()

	_, body := doJSON(t, router, "POST", "/api/analyze",
		`{"prompt":"stream","models":["alpha"],"pattern":"single-pass"}`)
	id := body["correlation_id"].(string)
	waitDone(t, e, id)

	// A late subscriber gets the terminal event, then the stream closes,
	// so the handler returns and the recorder holds the full stream.
	rec, _ := doJSON(t, router, "GET", "/api/analyze/"+id+"/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	stream := rec.Body.String()
	if !strings.Contains(stream, "event: pipeline_complete") {
		t.Errorf("stream missing terminal event: %q", stream)
	}
	if !strings.Contains(stream, `"correlation_id":"`+id+`"`) {
		t.Errorf("stream missing correlation id: %q", stream)
	}
}

func TestCancelEndpoint(t *testing.T) {
	slow := &countingProvider{name: "alpha", delay: 300 * time.Millisecond}
	server, e := newTestServer(t, nil, nil, slow)
	router := server.Router()

	_, body := doJSON(t, router, "POST", "/api/analyze",
		`{"prompt":"slow","models":["alpha"],"pattern":"four-stage"}`)
	id := body["correlation_id"].(string)

	rec, _ := doJSON(t, router, "POST", "/api/analyze/"+id+"/cancel", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", rec.Code)
	}

	waitDone(t, e, id)
	rec, body = doJSON(t, router, "GET", "/api/analyze/"+id, "")
	if body["status"] != "failed" {
		t.Errorf("status = %v, want failed", body["status"])
	}
}

func TestPatternsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	rec, body := doJSON(t, server.Router(), "GET", "/api/patterns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	patterns, _ := body["patterns"].([]any)
	if len(patterns) != 4 {
		t.Errorf("got %d patterns, want 4", len(patterns))
	}
}

func TestProvidersEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	rec, body := doJSON(t, server.Router(), "GET", "/api/providers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	providers, _ := body["providers"].([]any)
	if len(providers) != 1 {
		t.Fatalf("got %d providers", len(providers))
	}
	first, _ := providers[0].(map[string]any)
	if first["name"] != "alpha" || first["circuit"] != "closed" {
		t.Errorf("provider = %v", first)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	rec, body := doJSON(t, server.Router(), "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{
		Window: time.Minute,
		Quotas: map[string]int{ratelimit.TierAnonymous: 1},
	})
	defer limiter.Close()

	server, _ := newTestServer(t, limiter, ratelimit.NewBypass(nil, []string{"letmein"}))
	router := server.Router()

	rec, _ := doJSON(t, router, "GET", "/api/patterns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec, body := doJSON(t, router, "GET", "/api/patterns", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if _, ok := body["retry_after_seconds"].(float64); !ok {
		t.Errorf("missing retry_after_seconds: %v", body)
	}

	// Unlimited endpoints stay reachable
	rec, _ = doJSON(t, router, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d while limited", rec.Code)
	}

	// Bypass token skips the limiter entirely
	req := httptest.NewRequest("GET", "/api/patterns", nil)
	req.Header.Set("Authorization", "Bearer letmein")
	bypassed := httptest.NewRecorder()
	router.ServeHTTP(bypassed, req)
	if bypassed.Code != http.StatusOK {
		t.Errorf("bypassed request status = %d", bypassed.Code)
	}
}
