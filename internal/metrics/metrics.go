// Package metrics exposes Prometheus collectors for session lifecycle and
// event fan-out.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	activeHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wagate",
			Subsystem: "supervisor",
			Name:      "active_handles",
			Help:      "Live connection handles.",
		},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "supervisor",
			Name:      "status_transitions_total",
			Help:      "Session status transitions by target status.",
		},
		[]string{"status"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "supervisor",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnects and exhausted reconnect budgets.",
		},
		[]string{"outcome"},
	)
	credentialFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "credentials",
			Name:      "sync_failures_total",
			Help:      "Credential sync failures by stage.",
		},
		[]string{"stage"},
	)
	restored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "supervisor",
			Name:      "restored_sessions_total",
			Help:      "Sessions handled by startup restoration.",
		},
		[]string{"result"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events handed to subscribers, by event and delivery result.",
		},
		[]string{"event", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wagate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			activeHandles, transitions, reconnects, credentialFailures,
			restored, eventsPublished, httpRequests, httpDuration,
		)
	})
}

func HandleOpened() {
	RegisterMetrics()
	activeHandles.Inc()
}

func HandleClosed() {
	RegisterMetrics()
	activeHandles.Dec()
}

func RecordTransition(status string) {
	RegisterMetrics()
	transitions.WithLabelValues(status).Inc()
}

func RecordReconnect(exhausted bool) {
	RegisterMetrics()
	outcome := "scheduled"
	if exhausted {
		outcome = "exhausted"
	}
	reconnects.WithLabelValues(outcome).Inc()
}

func RecordCredentialFailure(stage string) {
	RegisterMetrics()
	credentialFailures.WithLabelValues(stage).Inc()
}

func RecordRestore(ok bool) {
	RegisterMetrics()
	result := "restored"
	if !ok {
		result = "failed"
	}
	restored.WithLabelValues(result).Inc()
}

func RecordPublish(event string, delivered, dropped int) {
	RegisterMetrics()
	if delivered > 0 {
		eventsPublished.WithLabelValues(event, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		eventsPublished.WithLabelValues(event, "dropped").Add(float64(dropped))
	}
	if delivered == 0 && dropped == 0 {
		eventsPublished.WithLabelValues(event, "no_subscriber").Inc()
	}
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}
