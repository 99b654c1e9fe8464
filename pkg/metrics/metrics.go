// Package metrics exposes Prometheus collectors for the forwarding engine.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "smsforward"

// Metrics groups the engine collectors.
type Metrics struct {
	messagesProcessed  *prometheus.CounterVec
	sendAttempts       *prometheus.CounterVec
	failures           *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
	sendDuration       prometheus.Histogram
	leaseConflicts     prometheus.Counter
	dispatchQueueDepth prometheus.Gauge
	sweepDeleted       *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		messagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Messages that reached a terminal state, by status.",
		}, []string{"status"}),
		sendAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Email send attempts, by result.",
		}, []string{"result"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_failures_total",
			Help:      "Terminal forward failures, by category.",
		}, []string{"category"}),
		processingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "End-to-end processing time per message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		sendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "email_send_duration_seconds",
			Help:      "Duration of individual email send attempts.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		leaseConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_conflicts_total",
			Help:      "Messages skipped because another worker held the lease.",
		}),
		dispatchQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Messages waiting for a dispatcher worker.",
		}),
		sweepDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Rows removed by the retention sweep, by kind.",
		}, []string{"kind"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status_code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) ObserveProcessed(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(status).Inc()
	m.processingDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveAttempt records one send attempt. result is "success" or a failure category.
func (m *Metrics) ObserveAttempt(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendAttempts.WithLabelValues(result).Inc()
	m.sendDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveFailure(category string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(category).Inc()
}

func (m *Metrics) IncLeaseConflict() {
	if m == nil {
		return
	}
	m.leaseConflicts.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.dispatchQueueDepth.Set(float64(n))
}

func (m *Metrics) AddSweepDeleted(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepDeleted.WithLabelValues(kind).Add(float64(n))
}

// ObserveHTTP records one served request. path is the route pattern, not
// the raw URL.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
