// Package metrics exposes the Prometheus collectors of the matcher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fault_matcher"

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "match",
		Name:      "decisions_total",
		Help:      "Match decisions by retrieval path and mode",
	}, []string{"path", "mode"})

	matchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "match",
		Name:      "latency_seconds",
		Help:      "End-to-end match latency by retrieval path",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	}, []string{"path"})

	channelFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "channel_failures_total",
		Help:      "Retrieval channel failures that degraded a request",
	}, []string{"channel"})

	arbitrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "arbitrator",
		Name:      "calls_total",
		Help:      "Closed-set arbitration outcomes: selected, no_selection, contract_violation, error or not_configured",
	}, []string{"outcome"})

	dialectSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hybrid",
		Name:      "dialect_switches_total",
		Help:      "Vector query dialect fallbacks by target dialect",
	}, []string{"to"})

	semanticDisabledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hybrid",
		Name:      "semantic_disabled_total",
		Help:      "Times semantic search was disabled, by trigger",
	}, []string{"trigger"})

	backendUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hybrid",
		Name:      "backend_unavailable_total",
		Help:      "Hybrid requests answered with the backend unavailable envelope",
	})
)

func RecordDecision(path, mode string) {
	decisionsTotal.WithLabelValues(path, mode).Inc()
}

func ObserveMatchLatency(path string, elapsed time.Duration) {
	matchLatency.WithLabelValues(path).Observe(elapsed.Seconds())
}

func RecordChannelFailure(channel string) {
	channelFailuresTotal.WithLabelValues(channel).Inc()
}

func RecordArbitration(outcome string) {
	arbitrationsTotal.WithLabelValues(outcome).Inc()
}

func RecordDialectSwitch(to string) {
	dialectSwitchesTotal.WithLabelValues(to).Inc()
}

func RecordSemanticDisabled(trigger string) {
	semanticDisabledTotal.WithLabelValues(trigger).Inc()
}

func RecordBackendUnavailable() {
	backendUnavailableTotal.Inc()
}
