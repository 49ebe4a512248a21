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

// Package ratelimit implements weighted sliding-window admission control.
//
// Each request carries a cost derived from its HTTP method (reads are cheap,
// writes are expensive). A request is admitted only if the caller's window
// cost plus this request's weight stays within the caller tier's quota.
// Denials always carry an explicit retry-after duration, never a silent drop.
//
// The limiter governs caller admission only; provider health is the circuit
// breaker's concern.
package ratelimit

import (
	"context"
	"net/http"
	"time"
)

// Default window and quota tuning.
const (
	// DefaultWindow is the sliding window length.
	DefaultWindow = time.Minute

	// DefaultQuota is the per-window weighted quota for unknown tiers.
	DefaultQuota = 60
)

// Method weights. Reads cost one unit; mutations cost five.
const (
	WeightRead  = 1
	WeightWrite = 5
)

// Tier names used by the default quota table.
const (
	TierAnonymous = "anonymous"
	TierStandard  = "standard"
	TierPremium   = "premium"
	TierInternal  = "internal"
)

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed is true when the request may proceed.
	Allowed bool

	// RetryAfter is how long the caller should wait before retrying.
	// Set only on denial, always positive.
	RetryAfter time.Duration

	// Remaining is the weighted budget left in the window after this request.
	Remaining int
}

// Limiter is the admission control contract.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Check admits or rejects one request. caller identifies the requester
	// (authenticated identity or client IP), tier selects the quota, path is
	// the route pattern, method the HTTP verb.
	Check(ctx context.Context, caller, tier, path, method string) (Decision, error)

	// Close releases limiter resources.
	Close() error
}

// Config tunes a limiter.
type Config struct {
	// Window is the sliding window length (default 1m).
	Window time.Duration

	// Quotas maps tier name to weighted quota per window.
	// Missing tiers fall back to DefaultQuota.
	Quotas map[string]int

	// Weights maps HTTP method to cost. Missing methods fall back to
	// MethodWeight's defaults.
	Weights map[string]int
}

// DefaultQuotas returns the standard tier quota table.
func DefaultQuotas() map[string]int {
	return map[string]int{
		TierAnonymous: 30,
		TierStandard:  120,
		TierPremium:   600,
		TierInternal:  6000,
	}
}

// normalize fills zero-valued config fields with defaults.
func (c *Config) normalize() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Quotas == nil {
		c.Quotas = DefaultQuotas()
	}
}

// quotaFor returns the weighted quota for a tier.
func (c *Config) quotaFor(tier string) int {
	if quota, ok := c.Quotas[tier]; ok {
		return quota
	}
	return DefaultQuota
}

// weightFor returns the cost of one request.
func (c *Config) weightFor(method string) int {
	if c.Weights != nil {
		if w, ok := c.Weights[method]; ok {
			return w
		}
	}
	return MethodWeight(method)
}

// MethodWeight returns the default cost for an HTTP method.
func MethodWeight(method string) int {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return WeightRead
	default:
		return WeightWrite
	}
}

// windowKey builds the rate window identity from caller, path, and tier.
func windowKey(caller, tier, path string) string {
	return caller + "|" + tier + "|" + path
}
