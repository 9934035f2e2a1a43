package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulpit",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of registered sessions.",
		},
	)

	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulpit",
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Total number of sessions closed, by reason.",
		},
		[]string{"reason"},
	)

	bridgeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulpit",
			Subsystem: "bridge",
			Name:      "queue_depth",
			Help:      "Requests waiting in the bridge queue.",
		},
	)

	bridgeInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulpit",
			Subsystem: "bridge",
			Name:      "inflight_requests",
			Help:      "Requests currently dispatched to the completion service.",
		},
	)

	bridgeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulpit",
			Subsystem: "bridge",
			Name:      "completions_total",
			Help:      "Completed bridge dispatches, by outcome.",
		},
		[]string{"outcome"},
	)

	bridgeRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulpit",
			Subsystem: "bridge",
			Name:      "retries_total",
			Help:      "Retry attempts against the completion service.",
		},
	)

	bridgeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pulpit",
			Subsystem: "bridge",
			Name:      "completion_duration_seconds",
			Help:      "Duration of completion dispatches including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	resultDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulpit",
			Subsystem: "orchestrator",
			Name:      "results_total",
			Help:      "AI results correlated back to sessions.",
		},
		[]string{"status"},
	)

	signalFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulpit",
			Subsystem: "signal",
			Name:      "frames_total",
			Help:      "Signaling frames moved, by direction.",
		},
		[]string{"direction"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulpit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulpit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		sessionsActive,
		sessionsClosed,
		bridgeQueueDepth,
		bridgeInFlight,
		bridgeOutcomes,
		bridgeRetries,
		bridgeLatency,
		resultDeliveries,
		signalFrames,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func SessionOpened() {
	sessionsActive.Inc()
}

func SessionEvicted() {
	sessionsActive.Dec()
}

// SessionsFlushed accounts for sessions removed in bulk by a registry
// shutdown, which bypasses the per-session eviction path.
func SessionsFlushed(n int) {
	sessionsActive.Sub(float64(n))
}

func SessionClosed(reason string) {
	sessionsClosed.WithLabelValues(reason).Inc()
}

func SetBridgeQueueDepth(n int) {
	bridgeQueueDepth.Set(float64(n))
}

func BridgeDispatchStarted() {
	bridgeInFlight.Inc()
}

func BridgeDispatchDone(outcome string, d time.Duration) {
	bridgeInFlight.Dec()
	bridgeOutcomes.WithLabelValues(outcome).Inc()
	bridgeLatency.Observe(d.Seconds())
}

func RecordBridgeRetry() {
	bridgeRetries.Inc()
}

// RecordResult counts one correlated bridge result.
func RecordResult(delivered bool) {
	status := "discarded"
	if delivered {
		status = "delivered"
	}
	resultDeliveries.WithLabelValues(status).Inc()
}

func RecordFrame(direction string) {
	signalFrames.WithLabelValues(direction).Inc()
}

// RecordHTTPRequest records one routed request for the gin middleware.
func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
