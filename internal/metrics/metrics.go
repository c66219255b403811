// Package metrics holds the Prometheus collectors for the wallet service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	offrampTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "offramp",
			Name:      "transitions_total",
			Help:      "Off-ramp order state transitions by target state",
		},
		[]string{"to"},
	)

	webhookEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound webhook events by provider and outcome",
		},
		[]string{"provider", "result"},
	)

	providerRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Latency of outbound provider API calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "status"},
	)

	ledgerOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by kind and outcome",
		},
		[]string{"op", "result"},
	)

	listenerPolls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "listener",
			Name:      "polls_total",
			Help:      "Custodian transaction polls by outcome",
		},
		[]string{"result"},
	)

	reconciliationMismatches = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "reconciliation",
			Name:      "mismatches_total",
			Help:      "Assets whose ledger total differed from the custodian balance",
		},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func OfframpTransition(to string) {
	offrampTransitions.WithLabelValues(to).Inc()
}

func WebhookEvent(provider, result string) {
	webhookEvents.WithLabelValues(provider, result).Inc()
}

// ObserveProviderRequest records one outbound call. status is the HTTP
// status code or "error" for transport failures.
func ObserveProviderRequest(provider, status string, elapsed time.Duration) {
	providerRequestDuration.WithLabelValues(provider, status).Observe(elapsed.Seconds())
}

func LedgerOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ledgerOperations.WithLabelValues(op, result).Inc()
}

func ListenerPoll(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	listenerPolls.WithLabelValues(result).Inc()
}

func ReconciliationMismatch() {
	reconciliationMismatches.Inc()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
