// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LocksAcquired tracks successful lock acquisitions by scope.
	LocksAcquired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "davlock_locks_acquired_total",
			Help: "Total locks acquired by scope (exclusive, shared, temporary)",
		},
		[]string{"scope"},
	)

	// LockConflicts tracks acquisitions rejected because of an overlapping lock.
	LockConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "davlock_lock_conflicts_total",
			Help: "Total lock acquisitions rejected by a conflicting lock, by scope",
		},
		[]string{"scope"},
	)

	// LocksReleased tracks removed locks by reason.
	LocksReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "davlock_locks_released_total",
			Help: "Total locks removed by reason (unlock, expired, temporary)",
		},
		[]string{"reason"},
	)

	// LocksRefreshed tracks lease refreshes.
	LocksRefreshed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "davlock_locks_refreshed_total",
			Help: "Total lock lease refreshes",
		},
	)

	// ActiveLocks tracks the current lock table size by kind.
	ActiveLocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "davlock_active_locks",
			Help: "Current number of live locks by kind (persistent, temporary)",
		},
		[]string{"kind"},
	)

	// LockRequestsTotal tracks LOCK and UNLOCK requests by branch and status.
	LockRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "davlock_requests_total",
			Help: "Total LOCK/UNLOCK requests by method, branch, and status",
		},
		[]string{"method", "branch", "status"},
	)

	// LockRequestDuration tracks LOCK and UNLOCK handling duration.
	LockRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "davlock_request_duration_seconds",
			Help:    "LOCK/UNLOCK handling duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "branch"},
	)

	// StoreOperationDuration tracks resource store call duration.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "davlock_store_operation_duration_seconds",
			Help:    "Resource store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// HTTPRequestsTotal tracks total HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RegisterMetricsEndpointWithPath registers the metrics endpoint at a custom path.
func RegisterMetricsEndpointWithPath(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// MetricsHandler returns the Prometheus HTTP handler.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordLockAcquired records a successful acquisition.
func RecordLockAcquired(scope string) {
	LocksAcquired.WithLabelValues(scope).Inc()
}

// RecordLockConflict records an acquisition rejected by a conflicting lock.
func RecordLockConflict(scope string) {
	LockConflicts.WithLabelValues(scope).Inc()
}

// RecordLocksReleased records count locks removed for reason.
func RecordLocksReleased(reason string, count int) {
	LocksReleased.WithLabelValues(reason).Add(float64(count))
}

// RecordLockRefreshed records a lease refresh.
func RecordLockRefreshed() {
	LocksRefreshed.Inc()
}

// SetActiveLocks sets the lock table gauges.
func SetActiveLocks(persistent, temporary int) {
	ActiveLocks.WithLabelValues("persistent").Set(float64(persistent))
	ActiveLocks.WithLabelValues("temporary").Set(float64(temporary))
}

// RecordLockRequest records a handled LOCK or UNLOCK request.
func RecordLockRequest(method, branch, status string) {
	LockRequestsTotal.WithLabelValues(method, branch, status).Inc()
}

// RecordLockRequestDuration records LOCK or UNLOCK handling duration.
func RecordLockRequestDuration(method, branch string, seconds float64) {
	LockRequestDuration.WithLabelValues(method, branch).Observe(seconds)
}

// RecordStoreOperation records a resource store call duration.
func RecordStoreOperation(operation string, seconds float64) {
	StoreOperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
