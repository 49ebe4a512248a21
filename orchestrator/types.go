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
	"fmt"
	"strings"
	"time"

	"ultrai/platform/orchestrator/llm"
)

// AnalysisRequest is one submitted analysis. Immutable once submitted.
type AnalysisRequest struct {
	// Prompt is the user's input text.
	Prompt string `json:"prompt"`

	// Models is the set of selected provider names. Order is preserved for
	// deterministic lead selection but carries no other meaning.
	Models []string `json:"models"`

	// Pattern names the analysis pattern to run.
	Pattern string `json:"pattern"`

	// Options are recognized per-request options (e.g. "temperature").
	Options map[string]string `json:"options,omitempty"`
}

// Validate rejects malformed requests before any provider call.
func (r *AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &RequestError{Code: ErrCodeInvalidRequest, Message: "prompt is required"}
	}
	if len(r.Models) == 0 {
		return &RequestError{Code: ErrCodeInvalidRequest, Message: "at least one model is required"}
	}
	seen := make(map[string]bool, len(r.Models))
	for _, m := range r.Models {
		if m == "" {
			return &RequestError{Code: ErrCodeInvalidRequest, Message: "model names must be non-empty"}
		}
		if seen[m] {
			return &RequestError{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf("duplicate model %q", m)}
		}
		seen[m] = true
	}
	if r.Pattern == "" {
		return &RequestError{Code: ErrCodeInvalidRequest, Message: "pattern is required"}
	}
	return nil
}

// ModelResponse records one adapter call's outcome. Created once per call,
// never mutated.
type ModelResponse struct {
	Model     string        `json:"model"`
	Stage     string        `json:"stage"`
	Output    string        `json:"output,omitempty"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	ErrorKind llm.ErrorKind `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// PipelineResult is the final outcome of one request: the synthesized answer
// plus the full ordered call log.
type PipelineResult struct {
	CorrelationID string          `json:"correlation_id"`
	Pattern       string          `json:"pattern"`
	Result        string          `json:"result"`
	Degraded      bool            `json:"degraded"`
	Responses     []ModelResponse `json:"responses"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   time.Time       `json:"completed_at"`
	FromCache     bool            `json:"from_cache,omitempty"`
}

// EventType tags one progress event variant.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventStageStarted     EventType = "stage_started"
	EventModelCompleted   EventType = "model_completed"
	EventModelFailed      EventType = "model_failed"
	EventStageDegraded    EventType = "degraded"
	EventPipelineComplete EventType = "pipeline_complete"
	EventPipelineFailed   EventType = "pipeline_failed"
	EventHeartbeat        EventType = "heartbeat"
)

// Terminal reports whether this event ends its stream.
func (t EventType) Terminal() bool {
	return t == EventPipelineComplete || t == EventPipelineFailed
}

// Event is one progress notification for a request's stream.
// Events are immutable after creation.
type Event struct {
	Type          EventType       `json:"event"`
	CorrelationID string          `json:"correlation_id"`
	Stage         string          `json:"stage,omitempty"`
	Model         string          `json:"model,omitempty"`
	ErrorKind     llm.ErrorKind   `json:"error_kind,omitempty"`
	Message       string          `json:"message,omitempty"`
	Result        *PipelineResult `json:"result,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Request error codes.
const (
	// ErrCodeInvalidRequest marks a malformed request, rejected before any
	// provider call.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeUnknownPattern marks a pattern name the engine cannot resolve.
	ErrCodeUnknownPattern = "unknown_pattern"

	// ErrCodeInsufficientModels marks a required stage with zero eligible
	// successful outputs. Fatal to the request.
	ErrCodeInsufficientModels = "insufficient_models"

	// ErrCodeUnknownCorrelation marks a stream or result lookup for an id
	// the engine has never seen.
	ErrCodeUnknownCorrelation = "unknown_correlation_id"

	// ErrCodeCanceled marks a pipeline stopped by an explicit cancel.
	ErrCodeCanceled = "canceled"
)

// RequestError is a caller-facing pipeline error.
type RequestError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
