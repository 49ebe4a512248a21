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

// Package breaker implements the per-provider circuit breaker registry.
//
// Each provider gets an independent circuit: CLOSED while healthy, OPEN
// after consecutive failures reach the threshold, HALF_OPEN for exactly one
// trial call once the recovery timeout elapses. A provider denied by the
// breaker counts as unavailable for the current stage, never as a
// request-fatal error.
package breaker

import (
	"log"
	"os"
	"sync"
	"time"
)

// State is the condition of one provider's circuit.
type State int

const (
	// StateClosed allows calls through.
	StateClosed State = iota
	// StateOpen blocks calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits a single trial call.
	StateHalfOpen
)

// String returns the state name for logging and metrics labels.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens a circuit.
	DefaultFailureThreshold = 5

	// DefaultRecoveryTimeout is how long a circuit stays open before a trial.
	DefaultRecoveryTimeout = 30 * time.Second
)

// Config contains circuit breaker tuning.
type Config struct {
	// FailureThreshold is the consecutive failures before opening (default 5).
	FailureThreshold int

	// RecoveryTimeout is the open duration before a half-open trial (default 30s).
	RecoveryTimeout time.Duration

	// OnStateChange is invoked after a circuit transitions. Optional; used to
	// feed metrics gauges. Called outside the circuit lock.
	OnStateChange func(provider string, from, to State)

	// Logger receives state-change log lines. Optional.
	Logger *log.Logger
}

// circuit is the per-provider breaker state. All fields are guarded by mu.
type circuit struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool
}

// Registry tracks one circuit per provider. Safe for concurrent use.
type Registry struct {
	config   Config
	logger   *log.Logger
	mu       sync.RWMutex
	circuits map[string]*circuit
}

// NewRegistry creates a circuit breaker registry with the given config.
// Zero-valued config fields fall back to defaults.
func NewRegistry(config Config) *Registry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultRecoveryTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[BREAKER] ", log.LstdFlags)
	}

	return &Registry{
		config:   config,
		logger:   logger,
		circuits: make(map[string]*circuit),
	}
}

// get returns the circuit for a provider, creating it CLOSED on first use.
func (r *Registry) get(provider string) *circuit {
	r.mu.RLock()
	c, ok := r.circuits[provider]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.circuits[provider]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	r.circuits[provider] = c
	return c
}

// Allow reports whether a call to the provider may proceed.
//
// OPEN circuits deny until the recovery timeout elapses, then transition to
// HALF_OPEN and admit exactly one trial; further calls are denied until the
// trial's outcome is recorded.
func (r *Registry) Allow(provider string) bool {
	c := r.get(provider)

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return true

	case StateOpen:
		if time.Since(c.lastFailure) < r.config.RecoveryTimeout {
			c.mu.Unlock()
			return false
		}
		from := c.state
		c.state = StateHalfOpen
		c.trialInFlight = true
		c.mu.Unlock()
		r.notify(provider, from, StateHalfOpen)
		return true

	case StateHalfOpen:
		if c.trialInFlight {
			c.mu.Unlock()
			return false
		}
		c.trialInFlight = true
		c.mu.Unlock()
		return true
	}

	c.mu.Unlock()
	return false
}

// RecordSuccess resets the failure counter and closes the circuit.
func (r *Registry) RecordSuccess(provider string) {
	c := r.get(provider)

	c.mu.Lock()
	from := c.state
	c.failures = 0
	c.trialInFlight = false
	c.state = StateClosed
	c.mu.Unlock()

	if from != StateClosed {
		r.notify(provider, from, StateClosed)
	}
}

// RecordFailure increments the failure counter and opens the circuit when
// the threshold is reached. A failed HALF_OPEN trial reopens immediately.
func (r *Registry) RecordFailure(provider string) {
	c := r.get(provider)

	c.mu.Lock()
	from := c.state
	c.failures++
	c.lastFailure = time.Now()
	c.trialInFlight = false

	opened := false
	if c.state == StateHalfOpen || c.failures >= r.config.FailureThreshold {
		if c.state != StateOpen {
			opened = true
		}
		c.state = StateOpen
	}
	c.mu.Unlock()

	if opened {
		r.notify(provider, from, StateOpen)
	}
}

// State returns the provider's current circuit state. An unseen provider
// reports CLOSED.
func (r *Registry) State(provider string) State {
	r.mu.RLock()
	c, ok := r.circuits[provider]
	r.mu.RUnlock()
	if !ok {
		return StateClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failures returns the provider's consecutive failure count.
func (r *Registry) Failures(provider string) int {
	r.mu.RLock()
	c, ok := r.circuits[provider]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Reset forces a provider's circuit back to CLOSED with a clean counter.
func (r *Registry) Reset(provider string) {
	c := r.get(provider)

	c.mu.Lock()
	from := c.state
	c.failures = 0
	c.trialInFlight = false
	c.state = StateClosed
	c.mu.Unlock()

	if from != StateClosed {
		r.notify(provider, from, StateClosed)
	}
}

// Snapshot returns the current state of every tracked circuit.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]State, len(r.circuits))
	for name, c := range r.circuits {
		c.mu.Lock()
		snap[name] = c.state
		c.mu.Unlock()
	}
	return snap
}

// notify logs a transition and invokes the state-change hook.
func (r *Registry) notify(provider string, from, to State) {
	r.logger.Printf("Circuit %s: %s -> %s", provider, from, to)
	if r.config.OnStateChange != nil {
		r.config.OnStateChange(provider, from, to)
	}
}
