// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tunegrab"

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Acquisition metrics
	AcquisitionsStarted   *prometheus.CounterVec
	AcquisitionsCompleted *prometheus.CounterVec
	AcquisitionsFailed    *prometheus.CounterVec
	AcquisitionsActive    prometheus.Gauge
	AttemptsTotal         *prometheus.CounterVec
	AcquisitionDuration   *prometheus.HistogramVec
	DeliveredBytes        *prometheus.CounterVec

	// Storage metrics
	CleanupFilesTotal *prometheus.CounterVec

	// Session metrics
	SessionsStored  prometheus.Counter
	SessionsExpired prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// Engine metrics
	EngineRequestsTotal *prometheus.CounterVec
	EngineErrors        *prometheus.CounterVec
}

// New creates all application metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		// Acquisition metrics
		AcquisitionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisitions",
			Name:      "started_total",
			Help:      "Total number of acquisitions started",
		}, []string{"kind"}),
		AcquisitionsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisitions",
			Name:      "completed_total",
			Help:      "Total number of acquisitions delivered successfully",
		}, []string{"kind"}),
		AcquisitionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisitions",
			Name:      "failed_total",
			Help:      "Total number of acquisitions that ended in a terminal failure",
		}, []string{"kind", "reason"}),
		AcquisitionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "acquisitions",
			Name:      "in_progress",
			Help:      "Number of acquisitions currently in progress",
		}),
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisitions",
			Name:      "attempts_total",
			Help:      "Total number of attempts, retries included",
		}, []string{"kind"}),
		AcquisitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "acquisitions",
			Name:      "duration_seconds",
			Help:      "Histogram of acquisition duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		DeliveredBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisitions",
			Name:      "delivered_bytes_total",
			Help:      "Total bytes delivered to users by channel",
		}, []string{"channel"}),

		// Storage metrics
		CleanupFilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_files_total",
			Help:      "Total number of temp files removed",
		}, []string{"source"}),

		// Session metrics
		SessionsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "stored_total",
			Help:      "Total number of pending selections stored",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "expired_total",
			Help:      "Total number of choices that found no pending selection",
		}),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}, []string{"method", "path"}),

		// Proxy metrics
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of requests made through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),

		// Engine metrics
		EngineRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Total number of engine invocations",
		}, []string{"operation", "status"}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Total number of engine errors by classification",
		}, []string{"operation", "kind"}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AcquisitionTimer marks an acquisition as started and returns a function that records its duration.
func (m *Metrics) AcquisitionTimer(kind string) func() {
	if m == nil {
		return func() {}
	}

	start := time.Now()

	m.AcquisitionsStarted.WithLabelValues(kind).Inc()
	m.AcquisitionsActive.Inc()

	return func() {
		m.AcquisitionsActive.Dec()
		m.AcquisitionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

// RecordAttempt counts one attempt.
func (m *Metrics) RecordAttempt(kind string) {
	if m == nil {
		return
	}

	m.AttemptsTotal.WithLabelValues(kind).Inc()
}

// RecordCompleted records a successful acquisition.
func (m *Metrics) RecordCompleted(kind string) {
	if m == nil {
		return
	}

	m.AcquisitionsCompleted.WithLabelValues(kind).Inc()
}

// RecordFailed records a terminal failure.
func (m *Metrics) RecordFailed(kind, reason string) {
	if m == nil {
		return
	}

	m.AcquisitionsFailed.WithLabelValues(kind, reason).Inc()
}

// RecordDelivered records bytes handed to the transport.
func (m *Metrics) RecordDelivered(channel string, size int64) {
	if m == nil {
		return
	}

	m.DeliveredBytes.WithLabelValues(channel).Add(float64(size))
}

// RecordCleanup records removed temp files.
func (m *Metrics) RecordCleanup(source string, files int) {
	if m == nil {
		return
	}

	m.CleanupFilesTotal.WithLabelValues(source).Add(float64(files))
}

// RecordSessionStored counts a stored pending selection.
func (m *Metrics) RecordSessionStored() {
	if m == nil {
		return
	}

	m.SessionsStored.Inc()
}

// RecordSessionExpired counts a choice that arrived without a pending selection.
func (m *Metrics) RecordSessionExpired() {
	if m == nil {
		return
	}

	m.SessionsExpired.Inc()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	if m == nil {
		return
	}

	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordEngineRequest records an engine invocation.
func (m *Metrics) RecordEngineRequest(operation, status string) {
	if m == nil {
		return
	}

	m.EngineRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordEngineError records a classified engine error.
func (m *Metrics) RecordEngineError(operation, kind string) {
	if m == nil {
		return
	}

	m.EngineErrors.WithLabelValues(operation, kind).Inc()
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	if m == nil {
		return
	}

	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	if m == nil {
		return
	}

	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	if m == nil {
		return
	}

	m.ProxiesAvailable.Set(float64(count))
}
