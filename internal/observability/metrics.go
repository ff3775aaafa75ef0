package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightviz",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"client", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lightviz",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"client", "method", "path", "status"},
	)
	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightviz",
			Subsystem: "http",
			Name:      "proxy_requests_total",
			Help:      "Remote calls proxied through the status server.",
		},
		[]string{"group", "method", "status"},
	)
	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightviz",
			Subsystem: "remote",
			Name:      "calls_total",
			Help:      "Remote calls issued through session groups.",
		},
		[]string{"group", "method", "success"},
	)
	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lightviz",
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Remote call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"group", "method", "success"},
	)
	busyCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lightviz",
			Subsystem: "session",
			Name:      "busy_calls",
			Help:      "Remote calls currently in flight per client.",
		},
		[]string{"client"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lightviz",
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Session connect attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Connect outcomes.
const (
	OutcomeReady  = "ready"
	OutcomeError  = "error"
	OutcomeClosed = "closed"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, proxyRequests, remoteCalls, remoteDuration, busyCount, connections)
	})
}

func RecordHTTPRequest(client, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(client, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(client, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordProxyRequest(group, method string, status int) {
	RegisterMetrics()
	proxyRequests.WithLabelValues(group, method, strconv.Itoa(status)).Inc()
}

func RecordRemoteCall(group, method string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	remoteCalls.WithLabelValues(group, method, successLabel).Inc()
	remoteDuration.WithLabelValues(group, method, successLabel).Observe(duration.Seconds())
}

func SetBusy(client string, count int) {
	RegisterMetrics()
	busyCount.WithLabelValues(client).Set(float64(count))
}

func RecordConnect(outcome string) {
	RegisterMetrics()
	connections.WithLabelValues(outcome).Inc()
}
