package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LedgerMetrics records finalize runs and audit results on a private registry.
type LedgerMetrics struct {
	registry       *prometheus.Registry
	finalizeRuns   *prometheus.CounterVec
	awardsApplied  *prometheus.CounterVec
	finalizeTiming *prometheus.HistogramVec
	auditDrift     prometheus.Gauge
}

func NewLedgerMetrics() *LedgerMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &LedgerMetrics{
		registry: registry,
		finalizeRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_finalize_runs_total",
				Help: "Finalize calls by challenge policy and outcome.",
			},
			[]string{"policy", "outcome"},
		),
		awardsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_finalize_awards_applied_total",
				Help: "Award deltas committed by finalize calls.",
			},
			[]string{"policy"},
		),
		finalizeTiming: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_finalize_duration_seconds",
				Help:    "Wall time of finalize calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy", "outcome"},
		),
		auditDrift: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_audit_drift_players",
				Help: "Players whose stored total disagreed with their awards in the last audit.",
			},
		),
	}
}

func (m *LedgerMetrics) ObserveFinalize(policy, outcome string, awardsApplied int, elapsed time.Duration) {
	if policy == "" {
		policy = "unknown"
	}
	m.finalizeRuns.WithLabelValues(policy, outcome).Inc()
	if awardsApplied > 0 {
		m.awardsApplied.WithLabelValues(policy).Add(float64(awardsApplied))
	}
	m.finalizeTiming.WithLabelValues(policy, outcome).Observe(elapsed.Seconds())
}

func (m *LedgerMetrics) ObserveAuditDrift(driftPlayers int) {
	m.auditDrift.Set(float64(driftPlayers))
}

// Handler serves the registry in the Prometheus text format.
func (m *LedgerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *LedgerMetrics) Registry() *prometheus.Registry {
	return m.registry
}
