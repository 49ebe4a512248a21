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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

// TestNew tests logger initialization
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		component      string
		instanceID     string
		expectedComp   string
		expectedInstID string
	}{
		{
			name:           "with instance ID set",
			component:      "test-component",
			instanceID:     "instance-123",
			expectedComp:   "test-component",
			expectedInstID: "instance-123",
		},
		{
			name:           "without instance ID",
			component:      "orchestrator",
			instanceID:     "",
			expectedComp:   "orchestrator",
			expectedInstID: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.instanceID != "" {
				t.Setenv("INSTANCE_ID", tt.instanceID)
			} else {
				t.Setenv("INSTANCE_ID", "")
			}

			l := New(tt.component)

			if l.Component != tt.expectedComp {
				t.Errorf("expected component %s, got %s", tt.expectedComp, l.Component)
			}
			if l.InstanceID != tt.expectedInstID {
				t.Errorf("expected instance ID %s, got %s", tt.expectedInstID, l.InstanceID)
			}
			if l.Container == "" {
				t.Error("expected non-empty container name")
			}
		})
	}
}

// captureOutput captures log output produced by fn
func captureOutput(fn func()) string {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}()
	fn()
	return buf.String()
}

// TestLog tests that entries are emitted as valid JSON with all fields
func TestLog(t *testing.T) {
	l := &Logger{Component: "test", InstanceID: "i-1", Container: "c-1"}

	out := captureOutput(func() {
		l.Info("caller-1", "corr-abc", "hello", map[string]interface{}{"stage": "initial"})
	})

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, out)
	}

	if entry.Level != INFO {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
	if entry.Component != "test" {
		t.Errorf("expected component test, got %s", entry.Component)
	}
	if entry.CallerID != "caller-1" {
		t.Errorf("expected caller_id caller-1, got %s", entry.CallerID)
	}
	if entry.CorrelationID != "corr-abc" {
		t.Errorf("expected correlation_id corr-abc, got %s", entry.CorrelationID)
	}
	if entry.Message != "hello" {
		t.Errorf("expected message hello, got %s", entry.Message)
	}
	if entry.Fields["stage"] != "initial" {
		t.Errorf("expected stage field initial, got %v", entry.Fields["stage"])
	}

	// Timestamp must parse as RFC3339Nano
	if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339Nano: %v", err)
	}
}

// TestLogLevels tests each log level helper
func TestLogLevels(t *testing.T) {
	l := &Logger{Component: "test", InstanceID: "i-1", Container: "c-1"}

	tests := []struct {
		name  string
		logFn func()
		level LogLevel
	}{
		{"debug", func() { l.Debug("c", "r", "m", nil) }, DEBUG},
		{"info", func() { l.Info("c", "r", "m", nil) }, INFO},
		{"warn", func() { l.Warn("c", "r", "m", nil) }, WARN},
		{"error", func() { l.Error("c", "r", "m", nil) }, ERROR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureOutput(tt.logFn)

			var entry LogEntry
			if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if entry.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, entry.Level)
			}
		})
	}
}

// TestInfoWithDuration tests the duration helper
func TestInfoWithDuration(t *testing.T) {
	l := &Logger{Component: "test", InstanceID: "i-1", Container: "c-1"}

	out := captureOutput(func() {
		l.InfoWithDuration("c", "r", "stage done", 123.4, nil)
	})

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry.Fields["duration_ms"] != 123.4 {
		t.Errorf("expected duration_ms 123.4, got %v", entry.Fields["duration_ms"])
	}
}

// TestErrorWithKind tests that the error kind and message are attached
func TestErrorWithKind(t *testing.T) {
	l := &Logger{Component: "test", InstanceID: "i-1", Container: "c-1"}

	out := captureOutput(func() {
		l.ErrorWithKind("c", "r", "provider call failed", "timeout",
			os.ErrDeadlineExceeded, map[string]interface{}{"provider": "anthropic"})
	})

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry.Fields["error_kind"] != "timeout" {
		t.Errorf("expected error_kind timeout, got %v", entry.Fields["error_kind"])
	}
	if entry.Fields["error"] == "" {
		t.Error("expected error field to be set")
	}
	if entry.Fields["provider"] != "anthropic" {
		t.Errorf("expected provider field preserved, got %v", entry.Fields["provider"])
	}
}
