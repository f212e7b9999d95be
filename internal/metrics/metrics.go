package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to the relay so tests never collide with the global one.
var Registry = prometheus.NewRegistry()

var (
	// TelemetryReceived counts inbound telemetry messages by source (webhook/kafka/mqtt)
	// and result (alert/ignored/malformed/rejected).
	TelemetryReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentrybox",
			Name:      "telemetry_received_total",
			Help:      "Inbound telemetry messages by source and result.",
		},
		[]string{"source", "result"},
	)

	// AlertOutcomes counts delivery decisions: delivered, simulated, unlinked,
	// retry_scheduled, retry_succeeded, retry_dropped, failed, throttled.
	AlertOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentrybox",
			Name:      "alert_outcomes_total",
			Help:      "Alert delivery outcomes.",
		},
		[]string{"outcome"},
	)

	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentrybox",
			Name:      "telegram_send_seconds",
			Help:      "Latency of Bot API send calls.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	RetryPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentrybox",
			Name:      "retry_pending_entries",
			Help:      "Retry entries currently waiting or running.",
		},
	)
)

func init() {
	Registry.MustRegister(
		TelemetryReceived,
		AlertOutcomes,
		SendLatency,
		RetryPending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
