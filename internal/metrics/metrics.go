// Package metrics holds the Prometheus collectors of the engine. A nil
// *Metrics is valid and records nothing, so packages can take it optionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "accafreeze"

// Metrics groups every collector
type Metrics struct {
	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	PipelineRuns         *prometheus.CounterVec
	PipelineDuration     prometheus.Histogram
	FixturesEvaluated    *prometheus.CounterVec
	MarketsEvaluated     *prometheus.CounterVec
	GateDecisions        *prometheus.CounterVec
	PredictionsPublished prometheus.Counter
	PredictionsSettled   *prometheus.CounterVec
	IntegrityViolations  prometheus.Counter
	AccasBuilt           prometheus.Gauge

	ProviderErrors *prometheus.CounterVec
	CircuitBreaker *prometheus.GaugeVec
	CacheRequests  *prometheus.CounterVec
	Exports        *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Daily pipeline runs by outcome",
			},
			[]string{"status"},
		),
		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_run_duration_seconds",
				Help:      "Duration of a pipeline run in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		FixturesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fixtures_evaluated_total",
				Help:      "Fixtures evaluated by outcome",
			},
			[]string{"status"},
		),
		MarketsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "markets_evaluated_total",
				Help:      "Markets evaluated, split by price availability",
			},
			[]string{"priced"},
		),
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_decisions_total",
				Help:      "Validation gate decisions by state and rule",
			},
			[]string{"state", "rule"},
		),
		PredictionsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_published_total",
				Help:      "Predictions newly written to the ledger",
			},
		),
		PredictionsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_settled_total",
				Help:      "Predictions frozen with a result",
			},
			[]string{"result"},
		),
		IntegrityViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_violations_total",
				Help:      "Stored predictions whose checksum no longer matches",
			},
		),
		AccasBuilt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "accas_built",
				Help:      "Accumulators produced by the last run",
			},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Data provider errors by endpoint",
			},
			[]string{"endpoint"},
		),
		CircuitBreaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),
		Exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exports_total",
				Help:      "Signal export batches by sink and status",
			},
			[]string{"sink", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestCounter,
			m.RequestDuration,
			m.PipelineRuns,
			m.PipelineDuration,
			m.FixturesEvaluated,
			m.MarketsEvaluated,
			m.GateDecisions,
			m.PredictionsPublished,
			m.PredictionsSettled,
			m.IntegrityViolations,
			m.AccasBuilt,
			m.ProviderErrors,
			m.CircuitBreaker,
			m.CacheRequests,
			m.Exports,
		)
	}
	return m
}

// IntegrityViolation counts one checksum mismatch
func (m *Metrics) IntegrityViolation() {
	if m == nil {
		return
	}
	m.IntegrityViolations.Inc()
}

// Published counts one newly published prediction
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.PredictionsPublished.Inc()
}

// Settled counts one frozen prediction
func (m *Metrics) Settled(result string) {
	if m == nil {
		return
	}
	m.PredictionsSettled.WithLabelValues(result).Inc()
}

// GateDecision counts one gate verdict
func (m *Metrics) GateDecision(state, rule string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(state, rule).Inc()
}

// FixtureEvaluated counts one fixture by outcome ("ok" or "failed")
func (m *Metrics) FixtureEvaluated(status string) {
	if m == nil {
		return
	}
	m.FixturesEvaluated.WithLabelValues(status).Inc()
}

// MarketEvaluated counts one evaluated market
func (m *Metrics) MarketEvaluated(priced bool) {
	if m == nil {
		return
	}
	label := "false"
	if priced {
		label = "true"
	}
	m.MarketsEvaluated.WithLabelValues(label).Inc()
}

// PipelineRun records a finished run
func (m *Metrics) PipelineRun(status string, seconds float64, accas int) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(seconds)
	m.AccasBuilt.Set(float64(accas))
}

// ProviderError counts one upstream failure
func (m *Metrics) ProviderError(endpoint string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(endpoint).Inc()
}

// BreakerState records the state of a named circuit breaker
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreaker.WithLabelValues(name).Set(float64(state))
}

// CacheLookup counts one cache lookup
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(cache, result).Inc()
}

// Export counts one export batch
func (m *Metrics) Export(sink, status string) {
	if m == nil {
		return
	}
	m.Exports.WithLabelValues(sink, status).Inc()
}

// Request records one API request
func (m *Metrics) Request(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}
