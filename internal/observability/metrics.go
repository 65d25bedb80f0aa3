package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	negotiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskterm",
			Subsystem: "client",
			Name:      "negotiations_total",
			Help:      "Session creation requests issued by the client.",
		},
		[]string{"result"},
	)
	negotiationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "deskterm",
			Subsystem: "client",
			Name:      "negotiation_duration_seconds",
			Help:      "Session creation round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskterm",
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Stream open attempts by outcome.",
		},
		[]string{"result"},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskterm",
			Subsystem: "transport",
			Name:      "reconnects_scheduled_total",
			Help:      "Automatic reconnects scheduled after a transient close.",
		},
	)
	closes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskterm",
			Subsystem: "transport",
			Name:      "closes_total",
			Help:      "Stream closes by close code.",
		},
		[]string{"code"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskterm",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Stream frames by direction and type.",
		},
		[]string{"direction", "type"},
	)
	queuedInput = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deskterm",
			Subsystem: "transport",
			Name:      "pending_input",
			Help:      "Input messages waiting for an open stream.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskterm",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskterm",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sandboxSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deskterm",
			Subsystem: "sandbox",
			Name:      "sessions_active",
			Help:      "Sandbox sessions currently registered.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			negotiations, negotiationDuration,
			connectAttempts, reconnects, closes, frames, queuedInput,
			httpRequests, httpDuration, sandboxSessions,
		)
	})
}

func RecordNegotiation(success bool, duration time.Duration) {
	RegisterMetrics()
	negotiations.WithLabelValues(resultLabel(success)).Inc()
	negotiationDuration.Observe(duration.Seconds())
}

func RecordConnectAttempt(success bool) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(resultLabel(success)).Inc()
}

func RecordReconnectScheduled() {
	RegisterMetrics()
	reconnects.Inc()
}

func RecordClose(code int) {
	RegisterMetrics()
	closes.WithLabelValues(strconv.Itoa(code)).Inc()
}

func RecordFrame(direction, frameType string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, frameType).Inc()
}

func SetPendingInput(n int) {
	RegisterMetrics()
	queuedInput.Set(float64(n))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func SetSandboxSessions(n int) {
	RegisterMetrics()
	sandboxSessions.Set(float64(n))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
