package health

import (
	"sort"
	"sync"
	"time"
)

// ProviderStatus is the last known health of a single storage provider.
type ProviderStatus struct {
	Provider     string        `json:"provider"`
	Status       Status        `json:"status"`
	ResponseTime time.Duration `json:"-"`
	LastChecked  time.Time     `json:"last_checked_at"`
	Error        string        `json:"error,omitempty"`
}

// ResponseTimeMs returns the probe or operation latency in milliseconds.
func (s ProviderStatus) ResponseTimeMs() int64 {
	return s.ResponseTime.Milliseconds()
}

// Healthy reports whether the status is StatusHealthy.
func (s ProviderStatus) Healthy() bool {
	return s.Status == StatusHealthy
}

// Registry holds one ProviderStatus per provider. Every write replaces the
// whole entry, so concurrent writers resolve as last-write-wins.
type Registry struct {
	mu       sync.RWMutex
	statuses map[string]ProviderStatus
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		statuses: make(map[string]ProviderStatus),
	}
}

// Register seeds a provider as healthy. It does not overwrite an existing entry.
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.statuses[name]; ok {
		return
	}
	r.statuses[name] = ProviderStatus{
		Provider:    name,
		Status:      StatusHealthy,
		LastChecked: time.Now(),
	}
}

// Set replaces the entry for status.Provider.
func (r *Registry) Set(status ProviderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[status.Provider] = status
}

// MarkUnhealthy replaces the entry for name with an unhealthy status.
func (r *Registry) MarkUnhealthy(name string, responseTime time.Duration, err error) {
	status := ProviderStatus{
		Provider:     name,
		Status:       StatusUnhealthy,
		ResponseTime: responseTime,
		LastChecked:  time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	r.Set(status)
}

// IsHealthy reports whether name may receive traffic. Providers that were
// never recorded are treated as healthy.
func (r *Registry) IsHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status, ok := r.statuses[name]
	if !ok {
		return true
	}
	return status.Healthy()
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (ProviderStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status, ok := r.statuses[name]
	return status, ok
}

// Snapshot returns a copy of all entries ordered by provider name.
func (r *Registry) Snapshot() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.statuses))
	for _, status := range r.statuses {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Provider < out[j].Provider
	})
	return out
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = make(map[string]ProviderStatus)
}
