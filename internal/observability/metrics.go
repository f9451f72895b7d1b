package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OneShotDelivered = "delivered"
	OneShotExpired   = "expired"
	OneShotRemoved   = "removed"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stanzactl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stanzactl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	dispatchStanzas = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stanzactl",
			Subsystem: "dispatch",
			Name:      "stanzas_total",
			Help:      "Stanzas routed through the dispatch engine.",
		},
		[]string{"kind"},
	)
	handlerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stanzactl",
			Subsystem: "dispatch",
			Name:      "handler_calls_total",
			Help:      "Registered handler invocations by tag.",
		},
		[]string{"tag"},
	)
	oneShots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stanzactl",
			Subsystem: "dispatch",
			Name:      "one_shot_total",
			Help:      "One-shot handler outcomes.",
		},
		[]string{"outcome"},
	)
	oneShotPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stanzactl",
			Subsystem: "dispatch",
			Name:      "one_shot_pending",
			Help:      "One-shot handlers awaiting a reply.",
		},
	)
	unsupportedReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stanzactl",
			Subsystem: "dispatch",
			Name:      "unsupported_replies_total",
			Help:      "Unhandled iq requests answered with service-unavailable.",
		},
	)
	fatalResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stanzactl",
			Subsystem: "dispatch",
			Name:      "fatal_total",
			Help:      "Dispatches that ended in a fatal result.",
		},
	)
	sessionReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stanzactl",
			Subsystem: "session",
			Name:      "ready",
			Help:      "1 when the session has reached the ready state.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			dispatchStanzas,
			handlerCalls,
			oneShots,
			oneShotPending,
			unsupportedReplies,
			fatalResults,
			sessionReady,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDispatch(kind string) {
	RegisterMetrics()
	dispatchStanzas.WithLabelValues(kind).Inc()
}

func RecordHandlerCall(tag string) {
	RegisterMetrics()
	handlerCalls.WithLabelValues(tag).Inc()
}

func RecordOneShot(outcome string) {
	RegisterMetrics()
	oneShots.WithLabelValues(outcome).Inc()
}

func SetOneShotPending(n int) {
	RegisterMetrics()
	oneShotPending.Set(float64(n))
}

func RecordUnsupportedReply() {
	RegisterMetrics()
	unsupportedReplies.Inc()
}

func RecordFatal() {
	RegisterMetrics()
	fatalResults.Inc()
}

func SetSessionReady(ready bool) {
	RegisterMetrics()
	if ready {
		sessionReady.Set(1)
		return
	}
	sessionReady.Set(0)
}
