// Package server implements health check handlers.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// StatusProbe reports one component's status line for the readiness response.
type StatusProbe func() (name, value string)

// Health is the store's health checker. The process is alive as long as it
// runs; readiness flips off when shutdown begins so load balancers drain
// before the partitions are released.
type Health struct {
	draining atomic.Bool
	probes   []StatusProbe
}

var _ HealthChecker = (*Health)(nil)

// NewHealth creates a health checker with the given status probes.
func NewHealth(probes ...StatusProbe) *Health {
	return &Health{probes: probes}
}

// BeginShutdown marks the process as draining so readiness probes fail.
func (h *Health) BeginShutdown() {
	h.draining.Store(true)
}

// Liveness reports whether the process should keep running.
func (h *Health) Liveness() bool {
	return true
}

// Readiness reports whether the store can accept work.
func (h *Health) Readiness(_ context.Context) bool {
	return !h.draining.Load()
}

// Status returns per-component status lines.
func (h *Health) Status() map[string]string {
	status := make(map[string]string, len(h.probes))
	for _, probe := range h.probes {
		name, value := probe()
		status[name] = value
	}
	return status
}

// HealthResponse is the body of the probe endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode liveness response", "error", err)
		}
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.Status(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode readiness response", "error", err)
		}
	}
}
