// Package metrics provides Prometheus metrics for EO product operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Container lookup metrics
	ContainerLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eopf_container_lookups_total",
			Help: "Total number of container child lookups",
		},
		[]string{"source"}, // "local", "store"
	)

	// Store operation metrics
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eopf_store_ops_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"operation"}, // "get", "set", "delete", "open", "close"
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eopf_store_op_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Array engine metrics
	ComputeRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eopf_compute_runs_total",
			Help: "Total number of deferred array graph evaluations",
		},
	)

	// Open products gauge
	OpenProducts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eopf_open_products",
			Help: "Number of products currently holding an open store",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eopf_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)
)

// RegisterMetrics ensures all metrics are registered with Prometheus.
// This function is idempotent and safe to call multiple times.
func RegisterMetrics() {
	// All metrics are automatically registered via promauto.
	// This function exists for explicit initialization if needed.
}
