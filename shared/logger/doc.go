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

/*
Package logger provides structured JSON logging for UltrAI components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, scheduler, etc.)
  - Instance ID and container name (for distributed tracing)
  - Caller ID (for per-caller isolation)
  - Correlation ID (links log lines to an analysis request and its event stream)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("orchestrator")

Log messages with caller and correlation context:

	log.Info(callerID, correlationID, "pipeline started", map[string]interface{}{
		"pattern": "four-stage",
		"models":  3,
	})

Log adapter failures with their classified error kind:

	log.ErrorWithKind(callerID, correlationID, "provider call failed",
		"timeout", err, nil)
*/
package logger
