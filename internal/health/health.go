// Package health tracks provider health and exposes it over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates some, but not all, providers are unhealthy.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result.
type Check struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// FromProviderStatuses folds per-provider statuses into one check. The check
// is healthy when every provider is, degraded when at least one is, and
// unhealthy otherwise.
func FromProviderStatuses(statuses []ProviderStatus) Check {
	details := make(map[string]interface{}, len(statuses))
	healthy := 0
	for _, s := range statuses {
		entry := map[string]interface{}{
			"status":           s.Status,
			"response_time_ms": s.ResponseTimeMs(),
			"last_checked_at":  s.LastChecked,
		}
		if s.Error != "" {
			entry["error"] = s.Error
		}
		details[s.Provider] = entry
		if s.Healthy() {
			healthy++
		}
	}

	status := StatusUnhealthy
	switch {
	case len(statuses) > 0 && healthy == len(statuses):
		status = StatusHealthy
	case healthy > 0:
		status = StatusDegraded
	}

	return Check{
		Status:    status,
		Timestamp: time.Now(),
		Details:   details,
	}
}

// Checker performs health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]func(context.Context) Check
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]func(context.Context) Check),
	}
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, checkFunc func(context.Context) Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = checkFunc
}

// CheckHealth performs all registered health checks.
func (c *Checker) CheckHealth(ctx context.Context) map[string]Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]Check, len(c.checks))
	for name, checkFunc := range c.checks {
		results[name] = checkFunc(ctx)
	}
	return results
}

// Handler returns an HTTP handler for health checks. It answers 503 only when
// a registered check is fully unhealthy; degraded checks still answer 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.CheckHealth(r.Context())

		overallStatus := StatusHealthy
		for _, check := range results {
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
				break
			}
			if check.Status == StatusDegraded {
				overallStatus = StatusDegraded
			}
		}

		response := struct {
			Status    Status           `json:"status"`
			Checks    map[string]Check `json:"checks"`
			Timestamp time.Time        `json:"timestamp"`
		}{
			Status:    overallStatus,
			Checks:    results,
			Timestamp: time.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		if overallStatus == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		// Headers are already sent, nothing useful to do on error.
		_ = json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler answers 200 while ready returns true and 503 otherwise.
func ReadinessHandler(ready func(context.Context) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// LivenessHandler returns a simple liveness check handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive\n"))
	}
}
