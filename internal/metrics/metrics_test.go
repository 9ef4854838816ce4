package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IntegrityViolation()
	m.Published()
	m.GateDecision("rejected", "min-edge")
	m.PipelineRun("success", 1.5, 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["accafreeze_integrity_violations_total"])
	assert.True(t, names["accafreeze_predictions_published_total"])
	assert.True(t, names["accafreeze_gate_decisions_total"])
	assert.True(t, names["accafreeze_pipeline_runs_total"])
}

func TestCounters(t *testing.T) {
	m := New(nil)

	m.IntegrityViolation()
	m.IntegrityViolation()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IntegrityViolations))

	m.CacheLookup("odds", true)
	m.CacheLookup("odds", false)
	m.CacheLookup("odds", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("odds", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("odds", "miss")))

	m.MarketEvaluated(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MarketsEvaluated.WithLabelValues("false")))

	m.BreakerState("odds", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreaker.WithLabelValues("odds")))

	m.PipelineRun("success", 2, 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.AccasBuilt))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IntegrityViolation()
		m.Published()
		m.Settled("won")
		m.GateDecision("published", "")
		m.FixtureEvaluated("ok")
		m.MarketEvaluated(true)
		m.PipelineRun("error", 1, 0)
		m.ProviderError("odds")
		m.BreakerState("odds", 0)
		m.CacheLookup("form", true)
		m.Export("webhook", "ok")
		m.Request("/health", "200", 0.01)
	})
}
