// Package metrics provides Prometheus metrics for the storage manager.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageOperations tracks provider calls made by the manager.
	StorageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "object_storage_operations_total",
		Help: "Total number of storage operations per provider",
	}, []string{"operation", "provider", "status"})

	// OperationDuration tracks the latency of provider calls.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "object_storage_operation_duration_seconds",
		Help:    "Duration of storage operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"operation", "provider"})

	// Failovers counts retries that moved an operation off a failed provider.
	Failovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "object_storage_failovers_total",
		Help: "Total number of operations retried after a provider failure",
	}, []string{"operation", "from_provider"})

	// ExhaustedOperations counts operations that failed on every attempt.
	ExhaustedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "object_storage_exhausted_operations_total",
		Help: "Total number of operations that exhausted their retry budget",
	}, []string{"operation"})

	// NoHealthyProviders counts operations rejected because nothing was healthy.
	NoHealthyProviders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "object_storage_no_healthy_providers_total",
		Help: "Total number of operations rejected with no healthy provider",
	}, []string{"operation"})

	// ProviderHealthy is 1 while a provider is marked healthy.
	ProviderHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "object_storage_provider_healthy",
		Help: "Whether the provider is currently marked healthy (1) or not (0)",
	}, []string{"provider"})

	// HealthCheckDuration tracks probe latency.
	HealthCheckDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "object_storage_health_check_duration_seconds",
		Help:    "Duration of provider health probes in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"provider"})

	// Info provides static information about the service.
	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "object_storage_info",
		Help: "Information about the storage manager",
	}, []string{"version", "strategy"})
)

// RecordStorageOperation records a storage operation.
func RecordStorageOperation(operation, provider string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	StorageOperations.WithLabelValues(operation, provider, status).Inc()
	OperationDuration.WithLabelValues(operation, provider).Observe(duration.Seconds())
}

// RecordProviderHealth records the outcome of a probe or a reactive failure.
func RecordProviderHealth(provider string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	ProviderHealthy.WithLabelValues(provider).Set(value)
}
