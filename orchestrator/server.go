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
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"ultrai/platform/orchestrator/breaker"
	"ultrai/platform/orchestrator/llm"
	"ultrai/platform/orchestrator/ratelimit"
	"ultrai/platform/shared/logger"
)

// Server is the orchestrator's HTTP surface.
type Server struct {
	scheduler *Scheduler
	hub       *EventHub
	registry  *llm.Registry
	breakers  *breaker.Registry
	patterns  *PatternSet
	limiter   ratelimit.Limiter
	bypass    *ratelimit.Bypass
	logger    *log.Logger
	access    *logger.Logger
}

// NewServer wires the HTTP surface over the engine components. The limiter
// and bypass validator may be nil to disable rate limiting.
func NewServer(scheduler *Scheduler, hub *EventHub, registry *llm.Registry, breakers *breaker.Registry, patterns *PatternSet, limiter ratelimit.Limiter, bypass *ratelimit.Bypass) *Server {
	return &Server{
		scheduler: scheduler,
		hub:       hub,
		registry:  registry,
		breakers:  breakers,
		patterns:  patterns,
		limiter:   limiter,
		bypass:    bypass,
		logger:    log.New(os.Stdout, "[HTTP] ", log.LstdFlags),
		access:    logger.New("http"),
	}
}

// Router builds the full route table with CORS and rate limiting applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Prometheus native format
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Analysis pipeline
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.accessLogMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/analyze", s.analyzeHandler).Methods("POST")
	api.HandleFunc("/analyze/{id}", s.resultHandler).Methods("GET")
	api.HandleFunc("/analyze/{id}/events", s.eventsHandler).Methods("GET")
	api.HandleFunc("/analyze/{id}/cancel", s.cancelHandler).Methods("POST")

	// Discovery
	api.HandleFunc("/patterns", s.patternsHandler).Methods("GET")
	api.HandleFunc("/providers", s.providersHandler).Methods("GET")

	return c.Handler(r)
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes SSE flushes through to the underlying writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// accessLogMiddleware emits one structured log line per API request. The
// correlation id is taken from the route when present, linking access logs
// to pipeline logs and event streams.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		s.access.InfoWithDuration(callerID(r), mux.Vars(r)["id"], "request handled",
			float64(time.Since(start).Milliseconds()), map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": recorder.status,
			})
	})
}

// rateLimitMiddleware enforces the weighted sliding-window quota per caller
// and tier. Bypass tokens skip the check entirely.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if s.bypass != nil && s.bypass.Allowed(token) {
			next.ServeHTTP(w, r)
			return
		}

		tier := ratelimit.TierAnonymous
		if s.bypass != nil {
			tier = s.bypass.CallerTier(token)
		}

		decision, err := s.limiter.Check(r.Context(), callerID(r), tier, r.URL.Path, r.Method)
		if err != nil {
			// Limiter trouble never blocks traffic
			s.logger.Printf("Rate limit check failed, admitting: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			promRateLimitDenials.Inc()
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":               "rate limit exceeded",
				"retry_after_seconds": retryAfter,
			})
			return
		}

		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		next.ServeHTTP(w, r)
	})
}

// analyzeHandler admits a new analysis request.
//
// POST /api/analyze
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{
				"code":    ErrCodeInvalidRequest,
				"message": "malformed JSON body",
			},
		})
		return
	}

	correlationID, err := s.scheduler.Submit(r.Context(), req)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"correlation_id": correlationID,
	})
}

// eventsHandler streams a request's progress events over SSE.
//
// GET /api/analyze/{id}/events
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	correlationID := mux.Vars(r)["id"]

	events, cancel, err := s.hub.Subscribe(correlationID)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "streaming unsupported",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Printf("Dropping unencodable event on %s: %v", correlationID, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}

// resultHandler polls a request's outcome.
//
// GET /api/analyze/{id}
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	correlationID := mux.Vars(r)["id"]

	result, done, err := s.scheduler.Result(correlationID)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Code == ErrCodeUnknownCorrelation {
			writeRequestError(w, err)
			return
		}
		// The pipeline finished with a fatal error
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "failed",
			"error":  requestErrorBody(err),
			"result": result,
		})
		return
	}

	if !done {
		writeJSON(w, http.StatusOK, map[string]any{"status": "running"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "complete",
		"result": result,
	})
}

// cancelHandler stops a running pipeline.
//
// POST /api/analyze/{id}/cancel
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	correlationID := mux.Vars(r)["id"]

	if err := s.scheduler.Cancel(correlationID); err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"correlation_id": correlationID,
		"status":         "canceling",
	})
}

// patternsHandler lists registered analysis patterns.
//
// GET /api/patterns
func (s *Server) patternsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": s.patterns.List(),
	})
}

// providersHandler lists registered providers with health and circuit state.
//
// GET /api/providers
func (s *Server) providersHandler(w http.ResponseWriter, _ *http.Request) {
	type providerStatus struct {
		Name    string                 `json:"name"`
		Type    llm.ProviderType       `json:"type"`
		Enabled bool                   `json:"enabled"`
		Weight  int                    `json:"weight"`
		Circuit string                 `json:"circuit"`
		Health  *llm.HealthCheckResult `json:"health,omitempty"`
	}

	names := s.registry.List()
	statuses := make([]providerStatus, 0, len(names))
	for _, name := range names {
		status := providerStatus{
			Name:    name,
			Circuit: s.breakers.State(name).String(),
			Health:  s.registry.GetHealthResult(name),
		}
		if config, err := s.registry.GetConfig(name); err == nil {
			status.Type = config.Type
			status.Enabled = config.Enabled
			status.Weight = config.Weight
		}
		statuses = append(statuses, status)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"providers": statuses,
	})
}

// healthHandler reports service liveness.
//
// GET /health
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "ultrai-orchestrator",
		"providers": s.registry.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeRequestError maps engine error codes to HTTP statuses.
func writeRequestError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code {
		case ErrCodeInvalidRequest, ErrCodeUnknownPattern:
			status = http.StatusBadRequest
		case ErrCodeUnknownCorrelation:
			status = http.StatusNotFound
		case ErrCodeInsufficientModels:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]any{"error": requestErrorBody(err)})
}

func requestErrorBody(err error) map[string]string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return map[string]string{"code": reqErr.Code, "message": reqErr.Message}
	}
	return map[string]string{"code": "internal_error", "message": err.Error()}
}

func writeJSON(w http.ResponseWriter, statusCode int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// bearerToken extracts the Authorization bearer token, if any.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// callerID identifies the caller for rate limiting: the client IP, or the
// whole RemoteAddr when it does not parse.
func callerID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
