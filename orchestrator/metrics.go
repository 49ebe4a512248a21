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
	"github.com/prometheus/client_golang/prometheus"

	"ultrai/platform/orchestrator/breaker"
)

// Prometheus metrics
var (
	promPipelinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultrai_orchestrator_pipelines_total",
			Help: "Total number of analysis pipelines by outcome",
		},
		[]string{"outcome"},
	)
	promStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ultrai_orchestrator_stage_duration_milliseconds",
			Help:    "Stage duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"stage"},
	)
	promProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultrai_orchestrator_provider_calls_total",
			Help: "Total number of model provider calls",
		},
		[]string{"provider", "status"},
	)
	promCacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultrai_orchestrator_cache_ops_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)
	promBreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ultrai_orchestrator_breaker_open",
			Help: "Whether the provider circuit is open (1) or not (0)",
		},
		[]string{"provider"},
	)
	promRateLimitDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ultrai_orchestrator_ratelimit_denials_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promPipelinesTotal)
	prometheus.MustRegister(promStageDuration)
	prometheus.MustRegister(promProviderCalls)
	prometheus.MustRegister(promCacheOps)
	prometheus.MustRegister(promBreakerOpen)
	prometheus.MustRegister(promRateLimitDenials)
}

// Pipeline outcomes for promPipelinesTotal.
const (
	outcomeComplete = "complete"
	outcomeDegraded = "degraded"
	outcomeFailed   = "failed"
	outcomeCached   = "cached"
	outcomeCanceled = "canceled"
)

// breakerMetricsHook feeds circuit state transitions into the open-circuit
// gauge. Wire it as the breaker registry's OnStateChange.
func breakerMetricsHook(provider string, _, to breaker.State) {
	if to == breaker.StateOpen {
		promBreakerOpen.WithLabelValues(provider).Set(1)
	} else {
		promBreakerOpen.WithLabelValues(provider).Set(0)
	}
}
