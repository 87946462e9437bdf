// Copyright 2025 The adwd Authors
//
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

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/warmonger0/adwd/internal/log"
)

// healthCheckTimeout is the hard cap for each health sub-check.
const healthCheckTimeout = 5 * time.Second

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version string
	Commit  string
}

// HealthCheck is one named component health probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Router wraps an http.ServeMux with request logging and the base
// endpoints.
type Router struct {
	mux    *http.ServeMux
	config RouterConfig
	logger *slog.Logger
	checks []HealthCheck
}

// NewRouter creates a new HTTP router with the base endpoints.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		config: cfg,
		logger: logger,
	}

	r.mux.HandleFunc("GET /api/v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// AddHealthCheck registers a component health probe.
func (r *Router) AddHealthCheck(check HealthCheck) {
	r.checks = append(r.checks, check)
}

// SetMetricsHandler registers the Prometheus scrape endpoint.
func (r *Router) SetMetricsHandler(handler MetricsHandler) {
	if handler != nil {
		r.mux.HandleFunc("GET /metrics", handler.ServeHTTP)
	}
}

// Mux returns the underlying ServeMux for registering additional
// routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler with request logging.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	r.logger.Debug("request completed",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
	)
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "adwd",
		"version": r.config.Version,
	})
}

// componentHealth is one sub-check result.
type componentHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth runs every registered sub-check, each under its own
// timeout.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	overall := http.StatusOK
	components := make([]componentHealth, 0, len(r.checks))

	for _, check := range r.checks {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check.Check(ctx)
		cancel()

		ch := componentHealth{Name: check.Name, Status: "ok"}
		if err != nil {
			ch.Status = "error"
			ch.Error = err.Error()
			overall = http.StatusServiceUnavailable
		}
		components = append(components, ch)
	}

	status := "healthy"
	if overall != http.StatusOK {
		status = "degraded"
	}
	WriteJSON(w, overall, map[string]any{
		"status":     status,
		"version":    r.config.Version,
		"components": components,
	})
}
