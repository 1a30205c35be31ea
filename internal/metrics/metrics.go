// Package metrics provides Prometheus metrics for monitoring browserctl.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolCallsTotal counts tool calls by tool and outcome code.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserctl_tool_calls_total",
			Help: "Total number of tool calls processed",
		},
		[]string{"tool", "code"},
	)

	// ToolCallDuration tracks call duration by tool.
	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "browserctl_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
		[]string{"tool"},
	)

	// PoolSize shows the current session pool size.
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserctl_pool_size",
			Help: "Current session pool size",
		},
	)

	// PoolAvailable shows idle sessions ready to borrow.
	PoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserctl_pool_available",
			Help: "Idle sessions available in the pool",
		},
	)

	// PoolBorrowed counts total session borrows.
	PoolBorrowed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browserctl_pool_borrowed_total",
			Help: "Total session borrows from the pool",
		},
	)

	// PoolRetired counts sessions retired by the pool.
	PoolRetired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browserctl_pool_retired_total",
			Help: "Total sessions retired by the pool",
		},
	)

	// ActiveSessions shows current named sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserctl_active_sessions",
			Help: "Number of active named sessions",
		},
	)

	// AuthDenials counts authorization denials by resource.
	AuthDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browserctl_auth_denials_total",
			Help: "Total authorization denials by resource",
		},
		[]string{"resource"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserctl_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserctl_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "browserctl_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browserctl_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		ToolCallsTotal,
		ToolCallDuration,
		PoolSize,
		PoolAvailable,
		PoolBorrowed,
		PoolRetired,
		ActiveSessions,
		AuthDenials,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

// updateMemoryMetrics updates memory-related metrics.
func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordToolCall records one completed tool call. Successful calls use the
// code "OK"; failures carry their stable error code.
func RecordToolCall(tool, code string, duration time.Duration) {
	ToolCallsTotal.WithLabelValues(tool, code).Inc()
	ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordAuthDenial records one authorization denial.
func RecordAuthDenial(resource string) {
	AuthDenials.WithLabelValues(resource).Inc()
}

// UpdatePoolMetrics refreshes the pool gauges from a snapshot.
func UpdatePoolMetrics(size, available int) {
	PoolSize.Set(float64(size))
	PoolAvailable.Set(float64(available))
}

// UpdateSessionMetrics updates the named-session count.
func UpdateSessionMetrics(count int) {
	ActiveSessions.Set(float64(count))
}
