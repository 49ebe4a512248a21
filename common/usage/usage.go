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

// Package usage records per-call token usage and estimated cost for
// analysis pipelines. Events are persisted to PostgreSQL; recording is
// best-effort and never blocks or fails a pipeline.
package usage

import (
	"context"
	"database/sql"
	"log"
	"os"
)

// CallEvent is one provider call made by the stage scheduler.
type CallEvent struct {
	CorrelationID    string
	Pattern          string
	Stage            string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int64
	Success          bool
	ErrorKind        string
}

// Recorder persists call events. A nil Recorder, or one without a
// database, records nothing.
type Recorder struct {
	db     *sql.DB
	logger *log.Logger
}

// NewRecorder creates a usage recorder over a database connection.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{
		db:     db,
		logger: log.New(os.Stdout, "[USAGE] ", log.LstdFlags),
	}
}

// RecordCall persists one provider call with its estimated cost. Errors
// are logged and returned but callers are expected to ignore them.
func (r *Recorder) RecordCall(ctx context.Context, event CallEvent) error {
	if r == nil || r.db == nil {
		return nil
	}

	costCents := CalculateCost(event.Provider, event.Model,
		event.PromptTokens, event.CompletionTokens)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO llm_usage_events (
			correlation_id, pattern, stage, provider, model,
			prompt_tokens, completion_tokens, total_tokens,
			estimated_cost_cents, latency_ms, success, error_kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, event.CorrelationID, event.Pattern, event.Stage, event.Provider,
		event.Model, event.PromptTokens, event.CompletionTokens,
		event.TotalTokens, costCents, event.LatencyMs, event.Success,
		nullString(event.ErrorKind))

	if err != nil {
		r.logger.Printf("Failed to record call for %s: %v", event.CorrelationID, err)
	}
	return err
}

// nullString converts an empty string to NULL for database insertion.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
