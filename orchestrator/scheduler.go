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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ultrai/platform/common/usage"
	"ultrai/platform/orchestrator/breaker"
	"ultrai/platform/orchestrator/cache"
	"ultrai/platform/orchestrator/llm"
)

const (
	// DefaultStageConcurrency bounds simultaneous provider calls per stage.
	DefaultStageConcurrency = 8

	// DefaultCallTimeout is the per-call provider timeout when the provider
	// config does not set one.
	DefaultCallTimeout = 60 * time.Second

	// resultRetention is how long finished outcomes stay pollable.
	resultRetention = time.Hour
)

// SchedulerConfig tunes the stage scheduler.
type SchedulerConfig struct {
	// StageConcurrency bounds simultaneous provider calls within one stage.
	StageConcurrency int

	// CallTimeout is the default per-call provider timeout.
	CallTimeout time.Duration

	// CacheTTL is the response cache TTL (0 = store default).
	CacheTTL time.Duration

	// Usage records per-call token usage and cost. Nil disables recording.
	Usage *usage.Recorder

	Logger *log.Logger
}

// Scheduler runs analysis requests through their pattern's stages. Each
// submitted request gets a correlation id, an event stream, and eventually
// exactly one terminal outcome.
type Scheduler struct {
	config   SchedulerConfig
	registry *llm.Registry
	breakers *breaker.Registry
	store    cache.Store
	patterns *PatternSet
	hub      *EventHub
	logger   *log.Logger

	mu      sync.RWMutex
	records map[string]*pipelineRecord
	cancels map[string]context.CancelFunc
}

// pipelineRecord is the stored outcome of one request.
type pipelineRecord struct {
	result *PipelineResult
	err    error
	done   bool
}

// NewScheduler creates a scheduler. The cache store may be nil to disable
// response caching.
func NewScheduler(config SchedulerConfig, registry *llm.Registry, breakers *breaker.Registry, store cache.Store, patterns *PatternSet, hub *EventHub) *Scheduler {
	if config.StageConcurrency <= 0 {
		config.StageConcurrency = DefaultStageConcurrency
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SCHEDULER] ", log.LstdFlags)
	}
	return &Scheduler{
		config:   config,
		registry: registry,
		breakers: breakers,
		store:    store,
		patterns: patterns,
		hub:      hub,
		logger:   logger,
		records:  make(map[string]*pipelineRecord),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit validates a request, assigns it a correlation id, and starts the
// pipeline asynchronously. Validation failures are returned synchronously;
// everything after admission is reported through the event stream.
func (s *Scheduler) Submit(ctx context.Context, req AnalysisRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	pattern, err := s.patterns.Get(req.Pattern)
	if err != nil {
		return "", err
	}

	for _, model := range req.Models {
		if !s.registry.Has(model) {
			return "", &RequestError{
				Code:    ErrCodeInvalidRequest,
				Message: fmt.Sprintf("model %q is not a registered provider", model),
			}
		}
	}

	correlationID := uuid.New().String()

	// The pipeline outlives the submitting HTTP request
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.records[correlationID] = &pipelineRecord{}
	s.cancels[correlationID] = cancel
	s.mu.Unlock()

	s.hub.Open(correlationID)
	s.logger.Printf("Accepted request %s: pattern=%s models=%v", correlationID, req.Pattern, req.Models)

	go s.run(runCtx, correlationID, req, pattern)

	return correlationID, nil
}

// Result returns the stored outcome for a correlation id. done is false
// while the pipeline is still running.
func (s *Scheduler) Result(correlationID string) (result *PipelineResult, done bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[correlationID]
	if !ok {
		return nil, false, &RequestError{
			Code:    ErrCodeUnknownCorrelation,
			Message: fmt.Sprintf("unknown correlation id %q", correlationID),
		}
	}
	return rec.result, rec.done, rec.err
}

// Cancel stops a running pipeline. In-flight provider calls are abandoned
// and no further stages start. Canceling a finished pipeline is a no-op.
func (s *Scheduler) Cancel(correlationID string) error {
	s.mu.RLock()
	cancel, ok := s.cancels[correlationID]
	s.mu.RUnlock()

	if !ok {
		return &RequestError{
			Code:    ErrCodeUnknownCorrelation,
			Message: fmt.Sprintf("unknown correlation id %q", correlationID),
		}
	}
	cancel()
	return nil
}

// run executes the full pipeline for one request.
func (s *Scheduler) run(ctx context.Context, correlationID string, req AnalysisRequest, pattern AnalysisPattern) {
	startedAt := time.Now()

	cacheKey := cache.Fingerprint(req.Prompt, req.Models, req.Pattern, req.Options)
	if cached := s.cacheLookup(ctx, cacheKey, correlationID); cached != nil {
		s.finishComplete(correlationID, cached, outcomeCached)
		return
	}

	lead := s.pickLead(req.Models)
	degraded := false
	var responses []ModelResponse

	// outputs carries the last executed stage's successful outputs by model
	outputs := make(map[string]string)

	for _, stage := range pattern.Stages {
		if ctx.Err() != nil {
			s.finishFailed(correlationID, pattern.Name, responses, startedAt, outcomeCanceled,
				&RequestError{Code: ErrCodeCanceled, Message: "pipeline canceled by caller"})
			return
		}

		participants := req.Models
		if stage.Participants == ParticipantsLead {
			participants = []string{lead}
		}

		eligible := make([]string, 0, len(participants))
		for _, model := range participants {
			if s.breakers.Allow(model) {
				eligible = append(eligible, model)
			} else {
				s.logger.Printf("Request %s stage %s: circuit open for %s, skipping", correlationID, stage.Name, model)
			}
		}

		if len(eligible) == 0 {
			if stage.Required {
				s.finishFailed(correlationID, pattern.Name, responses, startedAt, outcomeFailed, &RequestError{
					Code:    ErrCodeInsufficientModels,
					Message: fmt.Sprintf("required stage %q has no eligible models", stage.Name),
				})
				return
			}
			degraded = true
			s.hub.Publish(correlationID, Event{
				Type:    EventStageDegraded,
				Stage:   stage.Name,
				Message: "no eligible models, stage skipped",
			})
			continue
		}

		// A stage running with fewer models than requested is a degraded
		// run, and degraded runs stay out of the cache
		if skipped := len(participants) - len(eligible); skipped > 0 {
			degraded = true
			s.hub.Publish(correlationID, Event{
				Type:    EventStageDegraded,
				Stage:   stage.Name,
				Message: fmt.Sprintf("%d of %d models skipped, circuit open", skipped, len(participants)),
			})
		}

		s.hub.Publish(correlationID, Event{Type: EventStageStarted, Stage: stage.Name})
		stageStart := time.Now()

		stageResponses := s.runStage(ctx, correlationID, pattern.Name, stage, eligible, req, outputs)
		responses = append(responses, stageResponses...)
		promStageDuration.WithLabelValues(stage.Name).Observe(float64(time.Since(stageStart).Milliseconds()))

		// In-flight calls drain on cancel; the canceled outcome still wins
		if ctx.Err() != nil {
			s.finishFailed(correlationID, pattern.Name, responses, startedAt, outcomeCanceled,
				&RequestError{Code: ErrCodeCanceled, Message: "pipeline canceled by caller"})
			return
		}

		succeeded := make(map[string]string, len(stageResponses))
		for _, r := range stageResponses {
			if r.Success {
				succeeded[r.Model] = r.Output
			}
		}

		if len(succeeded) == 0 {
			if stage.Required {
				s.finishFailed(correlationID, pattern.Name, responses, startedAt, outcomeFailed, &RequestError{
					Code:    ErrCodeInsufficientModels,
					Message: fmt.Sprintf("required stage %q produced no successful output", stage.Name),
				})
				return
			}
			degraded = true
			s.hub.Publish(correlationID, Event{
				Type:    EventStageDegraded,
				Stage:   stage.Name,
				Message: "all models failed, prior outputs carried forward",
			})
			continue
		}

		if len(succeeded) < len(eligible) {
			degraded = true
			s.hub.Publish(correlationID, Event{
				Type:    EventStageDegraded,
				Stage:   stage.Name,
				Message: fmt.Sprintf("%d of %d models failed", len(eligible)-len(succeeded), len(eligible)),
			})
		}

		outputs = succeeded
	}

	result := &PipelineResult{
		CorrelationID: correlationID,
		Pattern:       pattern.Name,
		Result:        s.finalAnswer(lead, req.Models, outputs),
		Degraded:      degraded,
		Responses:     responses,
		StartedAt:     startedAt,
		CompletedAt:   time.Now(),
	}

	// Degraded results are never cached; a retry may do better
	if !result.Degraded {
		s.cacheStore(ctx, cacheKey, result)
	}

	outcome := outcomeComplete
	if degraded {
		outcome = outcomeDegraded
	}
	s.finishComplete(correlationID, result, outcome)
}

// runStage fans the stage's calls out across a bounded worker set and
// collects one ModelResponse per eligible model, in input order.
func (s *Scheduler) runStage(ctx context.Context, correlationID, patternName string, stage Stage, eligible []string, req AnalysisRequest, prior map[string]string) []ModelResponse {
	results := make([]ModelResponse, len(eligible))
	sem := make(chan struct{}, s.config.StageConcurrency)

	var wg sync.WaitGroup
	for i, model := range eligible {
		wg.Add(1)
		go func(idx int, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = s.callModel(ctx, correlationID, patternName, stage, name, req, prior)
		}(i, model)
	}
	wg.Wait()

	return results
}

// callModel executes one provider call with its timeout and breaker
// bookkeeping, and publishes the per-call event.
func (s *Scheduler) callModel(ctx context.Context, correlationID, patternName string, stage Stage, model string, req AnalysisRequest, prior map[string]string) ModelResponse {
	resp := ModelResponse{
		Model:     model,
		Stage:     stage.Name,
		Timestamp: time.Now(),
	}

	provider, err := s.registry.Get(ctx, model)
	if err != nil {
		resp.ErrorKind = llm.ErrKindServer
		resp.Error = err.Error()
		s.recordFailure(correlationID, &resp)
		return resp
	}

	timeout := s.config.CallTimeout
	if config, err := s.registry.GetConfig(model); err == nil && config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	// The call context is detached from pipeline cancelation so in-flight
	// calls drain; the stage boundary observes the cancel
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	completion := llm.CompletionRequest{
		Prompt:      s.buildPrompt(stage, model, req, prior),
		Temperature: optionFloat(req.Options, "temperature"),
	}

	start := time.Now()
	out, err := provider.Complete(callCtx, completion)
	resp.Latency = time.Since(start)

	if err != nil {
		// A caller cancel is not a provider fault: no breaker hit, no
		// model_failed event
		if ctx.Err() != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.ErrorKind = llm.Classify(err)
		resp.Error = err.Error()
		s.breakers.RecordFailure(model)
		s.recordUsage(correlationID, patternName, provider, &resp, nil)
		s.recordFailure(correlationID, &resp)
		return resp
	}

	resp.Success = true
	resp.Output = out.Content
	s.breakers.RecordSuccess(model)
	s.recordUsage(correlationID, patternName, provider, &resp, out)
	promProviderCalls.WithLabelValues(model, "success").Inc()
	s.hub.Publish(correlationID, Event{
		Type:  EventModelCompleted,
		Stage: stage.Name,
		Model: model,
	})
	return resp
}

// recordUsage persists the call's token usage and cost, best effort and off
// the pipeline's critical path.
func (s *Scheduler) recordUsage(correlationID, patternName string, provider llm.Provider, resp *ModelResponse, out *llm.CompletionResponse) {
	if s.config.Usage == nil {
		return
	}

	event := usage.CallEvent{
		CorrelationID: correlationID,
		Pattern:       patternName,
		Stage:         resp.Stage,
		Provider:      resp.Model,
		LatencyMs:     resp.Latency.Milliseconds(),
		Success:       resp.Success,
		ErrorKind:     string(resp.ErrorKind),
	}
	if out != nil {
		event.Model = out.Model
		event.PromptTokens = out.Usage.PromptTokens
		event.CompletionTokens = out.Usage.CompletionTokens
		event.TotalTokens = out.Usage.TotalTokens
	}
	if event.Model == "" {
		if config, err := s.registry.GetConfig(provider.Name()); err == nil {
			event.Model = config.Model
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.config.Usage.RecordCall(ctx, event)
	}()
}

func (s *Scheduler) recordFailure(correlationID string, resp *ModelResponse) {
	promProviderCalls.WithLabelValues(resp.Model, "error").Inc()
	s.logger.Printf("Request %s stage %s: %s failed (%s): %s",
		correlationID, resp.Stage, resp.Model, resp.ErrorKind, resp.Error)
	s.hub.Publish(correlationID, Event{
		Type:      EventModelFailed,
		Stage:     resp.Stage,
		Model:     resp.Model,
		ErrorKind: resp.ErrorKind,
		Message:   resp.Error,
	})
}

// buildPrompt assembles a stage call's prompt from the original question,
// the stage instruction, and prior outputs per the stage's input rule.
func (s *Scheduler) buildPrompt(stage Stage, model string, req AnalysisRequest, prior map[string]string) string {
	var b strings.Builder
	if stage.Instruction != "" {
		b.WriteString(stage.Instruction)
		b.WriteString("\n\n")
	}

	switch stage.Input {
	case InputOwn:
		own, ok := prior[model]
		if !ok {
			// No surviving prior output for this model, fall back to raw
			b.WriteString(req.Prompt)
			break
		}
		fmt.Fprintf(&b, "Original question:\n%s\n\nYour previous answer:\n%s", req.Prompt, own)

	case InputAllLabeled:
		fmt.Fprintf(&b, "Original question:\n%s\n", req.Prompt)
		for _, m := range req.Models {
			out, ok := prior[m]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "\nAnswer from %s:\n%s\n", m, out)
		}

	default: // InputRaw
		b.WriteString(req.Prompt)
	}

	return b.String()
}

// pickLead chooses the lead model: highest configured weight, ties broken
// by input order.
func (s *Scheduler) pickLead(models []string) string {
	lead := models[0]
	best := -1
	for _, m := range models {
		weight := 0
		if config, err := s.registry.GetConfig(m); err == nil {
			weight = config.Weight
		}
		if weight > best {
			best = weight
			lead = m
		}
	}
	return lead
}

// finalAnswer extracts the synthesized answer from the last executed
// stage's outputs: the lead's output when present, else the first model in
// input order with one.
func (s *Scheduler) finalAnswer(lead string, models []string, outputs map[string]string) string {
	if out, ok := outputs[lead]; ok {
		return out
	}
	for _, m := range models {
		if out, ok := outputs[m]; ok {
			return out
		}
	}
	return ""
}

// cacheLookup returns the cached result for a key, rewritten for this
// correlation id, or nil on a miss. Cache failures are misses.
func (s *Scheduler) cacheLookup(ctx context.Context, key, correlationID string) *PipelineResult {
	if s.store == nil {
		return nil
	}

	raw, found, err := s.store.Get(ctx, key)
	if err != nil || !found {
		promCacheOps.WithLabelValues("miss").Inc()
		return nil
	}

	var result PipelineResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Printf("Discarding undecodable cache entry %s: %v", key, err)
		promCacheOps.WithLabelValues("miss").Inc()
		return nil
	}

	promCacheOps.WithLabelValues("hit").Inc()
	result.CorrelationID = correlationID
	result.FromCache = true
	return &result
}

func (s *Scheduler) cacheStore(ctx context.Context, key string, result *PipelineResult) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Printf("Failed to encode result for cache: %v", err)
		return
	}
	if err := s.store.Put(ctx, key, raw, s.config.CacheTTL); err != nil {
		s.logger.Printf("Failed to cache result %s: %v", key, err)
	}
}

// finishComplete records a successful outcome and emits the terminal event.
func (s *Scheduler) finishComplete(correlationID string, result *PipelineResult, outcome string) {
	s.mu.Lock()
	if rec, ok := s.records[correlationID]; ok {
		rec.result = result
		rec.done = true
	}
	delete(s.cancels, correlationID)
	s.mu.Unlock()
	s.expireRecord(correlationID)

	promPipelinesTotal.WithLabelValues(outcome).Inc()
	s.logger.Printf("Request %s finished: outcome=%s degraded=%v calls=%d",
		correlationID, outcome, result.Degraded, len(result.Responses))

	s.hub.Publish(correlationID, Event{
		Type:   EventPipelineComplete,
		Result: result,
	})
}

// finishFailed records a fatal outcome and emits the terminal event.
// Failed pipelines are never cached.
func (s *Scheduler) finishFailed(correlationID, pattern string, responses []ModelResponse, startedAt time.Time, outcome string, failure *RequestError) {
	result := &PipelineResult{
		CorrelationID: correlationID,
		Pattern:       pattern,
		Degraded:      true,
		Responses:     responses,
		StartedAt:     startedAt,
		CompletedAt:   time.Now(),
	}

	s.mu.Lock()
	if rec, ok := s.records[correlationID]; ok {
		rec.result = result
		rec.err = failure
		rec.done = true
	}
	delete(s.cancels, correlationID)
	s.mu.Unlock()
	s.expireRecord(correlationID)

	promPipelinesTotal.WithLabelValues(outcome).Inc()
	s.logger.Printf("Request %s failed: %v", correlationID, failure)

	s.hub.Publish(correlationID, Event{
		Type:    EventPipelineFailed,
		Message: failure.Error(),
		Result:  result,
	})
}

// expireRecord drops a finished outcome after the retention window.
func (s *Scheduler) expireRecord(correlationID string) {
	time.AfterFunc(resultRetention, func() {
		s.mu.Lock()
		delete(s.records, correlationID)
		s.mu.Unlock()
	})
}

// optionFloat reads a float request option, returning nil when absent or
// malformed so provider defaults stay in effect.
func optionFloat(options map[string]string, key string) *float64 {
	raw, ok := options[key]
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
