package validation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

func market(id model.MarketID, p, odds float64) model.EvaluatedMarket {
	vm := 1.0
	switch id.Kind() {
	case model.KindCorrectScore:
		vm = 0.70
	case model.KindResult:
		vm = 0.92
		if id == model.Draw {
			vm = 0.85
		}
	case model.KindBTTS:
		vm = 0.95
	}
	ev := p*odds - 1
	return model.EvaluatedMarket{
		FixtureID:          "fx-1",
		MarketID:           id,
		Kind:               id.Kind(),
		Probability:        p,
		Priced:             true,
		Odds:               odds,
		Bookmaker:          "alpha",
		Edge:               p - 1/odds,
		EV:                 ev,
		EVAdjusted:         ev * vm,
		Confidence:         70,
		EdgeScore:          80,
		VarianceMultiplier: vm,
		ConfidenceInterval: &model.Interval{Low: 0.55, High: 0.65},
	}
}

func TestEvaluate_Passes(t *testing.T) {
	g := NewGate(DefaultGateOptions(), nil)
	d := g.Evaluate(market(model.Over25, 0.60, 2.10))

	assert.True(t, d.Approved())
	assert.Equal(t, StatePublished, d.State)
	assert.Empty(t, d.Rule)
	assert.Empty(t, d.Reason)
}

func TestEvaluate_ReferenceRejection(t *testing.T) {
	g := NewGate(DefaultGateOptions(), nil)
	d := g.Evaluate(market(model.Over25, 0.50, 1.30))

	assert.Equal(t, StateRejected, d.State)
	assert.Equal(t, RuleMinEdge, d.Rule)
	assert.Contains(t, d.Reason, "edge")
}

func TestEvaluate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *model.EvaluatedMarket)
		opts   func(o *GateOptions)
		rule   string
	}{
		{
			name:   "unpriced market",
			mutate: func(m *model.EvaluatedMarket) { m.Priced = false },
			rule:   RuleNoLiquidity,
		},
		{
			name: "not whitelisted",
			opts: func(o *GateOptions) { o.Whitelist = []model.MarketID{model.BTTSYes} },
			rule: RuleWhitelist,
		},
		{
			name:   "unknown market",
			mutate: func(m *model.EvaluatedMarket) { m.MarketID = "CORNERS_OVER_9_5" },
			rule:   RuleWhitelist,
		},
		{
			name:   "odds too low",
			mutate: func(m *model.EvaluatedMarket) { m.Odds = 1.15 },
			rule:   RuleOddsBounds,
		},
		{
			name:   "odds too high",
			mutate: func(m *model.EvaluatedMarket) { m.Odds = 21 },
			rule:   RuleOddsBounds,
		},
		{
			name:   "small edge",
			mutate: func(m *model.EvaluatedMarket) { m.Edge = 0.01 },
			rule:   RuleMinEdge,
		},
		{
			name:   "small EV",
			mutate: func(m *model.EvaluatedMarket) { m.EV = 0.03 },
			rule:   RuleMinEV,
		},
		{
			name:   "low confidence",
			mutate: func(m *model.EvaluatedMarket) { m.Confidence = 50 },
			rule:   RuleMinConfidence,
		},
		{
			name:   "low edge score",
			mutate: func(m *model.EvaluatedMarket) { m.EdgeScore = 39.9 },
			rule:   RuleMinEdgeScore,
		},
		{
			name: "risk rejected",
			mutate: func(m *model.EvaluatedMarket) {
				m.RiskAssessment = &model.RiskAssessment{IsApproved: false, RejectionReason: "exposure limit reached"}
			},
			rule: RuleRiskAssessment,
		},
		{
			name:   "wide interval",
			mutate: func(m *model.EvaluatedMarket) { m.ConfidenceInterval = &model.Interval{Low: 0.40, High: 0.70} },
			rule:   RuleIntervalWidth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultGateOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			m := market(model.Over25, 0.60, 2.10)
			if tt.mutate != nil {
				tt.mutate(&m)
			}
			d := NewGate(opts, nil).Evaluate(m)
			assert.Equal(t, StateRejected, d.State)
			assert.Equal(t, tt.rule, d.Rule)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestEvaluate_RiskReasonVerbatim(t *testing.T) {
	m := market(model.Over25, 0.60, 2.10)
	m.RiskAssessment = &model.RiskAssessment{IsApproved: false, RejectionReason: "exposure limit reached"}

	d := NewGate(DefaultGateOptions(), nil).Evaluate(m)
	assert.Equal(t, "exposure limit reached", d.Reason)

	m.RiskAssessment = &model.RiskAssessment{IsApproved: true}
	assert.True(t, NewGate(DefaultGateOptions(), nil).Evaluate(m).Approved())
}

func TestEvaluate_FirstFailureWins(t *testing.T) {
	m := market(model.Over25, 0.60, 2.10)
	m.Edge = 0.0
	m.Confidence = 10
	m.ConfidenceInterval = &model.Interval{Low: 0, High: 1}

	d := NewGate(DefaultGateOptions(), nil).Evaluate(m)
	assert.Equal(t, RuleMinEdge, d.Rule)
}

func TestEvaluate_ResultFloors(t *testing.T) {
	g := NewGate(DefaultGateOptions(), nil)

	// 0.44 @ 2.60: edge 0.055, EV 0.144, but probability under the result floor
	d := g.Evaluate(market(model.HomeWin, 0.44, 2.60))
	assert.Equal(t, RuleResultFloors, d.Rule)
	assert.Contains(t, d.Reason, "probability")

	// 0.50 @ 2.12: edge 0.028, EV 0.06 -> result edge floor
	d = g.Evaluate(market(model.HomeWin, 0.50, 2.12))
	assert.Equal(t, RuleResultFloors, d.Rule)
	assert.Contains(t, d.Reason, "edge")

	d = g.Evaluate(market(model.HomeWin, 0.55, 2.10))
	assert.True(t, d.Approved(), d.Reason)
}

func TestEvaluate_CorrectScoreFloors(t *testing.T) {
	g := NewGate(DefaultGateOptions(), nil)
	cs := model.CorrectScoreID(1, 1)

	d := g.Evaluate(market(cs, 0.09, 16.0))
	assert.Equal(t, RuleCorrectScoreFloors, d.Rule)

	m := market(cs, 0.16, 10.0)
	m.Confidence = 60
	d = g.Evaluate(m)
	assert.Equal(t, RuleCorrectScoreFloors, d.Rule)
	assert.Contains(t, d.Reason, "confidence")

	m.Confidence = 70
	d = g.Evaluate(m)
	assert.True(t, d.Approved(), d.Reason)

	opts := DefaultGateOptions()
	opts.AllowCorrectScore = false
	assert.Equal(t, RuleWhitelist, NewGate(opts, nil).Evaluate(m).Rule)
}

func TestEvaluate_HighVariance(t *testing.T) {
	g := NewGate(DefaultGateOptions(), nil)

	// Draw: EV 0.13 * 0.85 = 0.1105 < 0.12
	m := market(model.Draw, 0.3, 3.7667)
	m.ConfidenceInterval = nil
	m.Kind = model.KindBTTS // skip the result floors for this check
	d := g.Evaluate(m)
	assert.Equal(t, RuleVariance, d.Rule)

	m.EVAdjusted = 0.2
	assert.True(t, g.Evaluate(m).Approved())
}

func TestEvaluate_MonotonicInEdge(t *testing.T) {
	g := NewGate(DefaultGateOptions(), nil)
	passed := false
	for p := 0.40; p <= 0.80; p += 0.01 {
		d := g.Evaluate(market(model.Over25, p, 2.10))
		if passed {
			assert.True(t, d.Approved(), fmt.Sprintf("p=%.2f rejected after a lower edge passed: %s", p, d.Reason))
		}
		passed = passed || d.Approved()
	}
	assert.True(t, passed)
}

type stubAssessor struct {
	ra  *model.RiskAssessment
	err error
	n   int
}

func (s *stubAssessor) Assess(_ context.Context, _ model.EvaluatedMarket) (*model.RiskAssessment, error) {
	s.n++
	return s.ra, s.err
}

func TestReview_UsesAssessor(t *testing.T) {
	ctx := context.Background()

	approve := &stubAssessor{ra: &model.RiskAssessment{IsApproved: true}}
	m := market(model.Over25, 0.60, 2.10)
	d := NewGate(DefaultGateOptions(), approve).Review(ctx, &m)
	assert.True(t, d.Approved())
	require.NotNil(t, m.RiskAssessment)
	assert.Equal(t, 1, approve.n)

	failing := &stubAssessor{err: errors.New("timeout")}
	m = market(model.Over25, 0.60, 2.10)
	d = NewGate(DefaultGateOptions(), failing).Review(ctx, &m)
	assert.Equal(t, RuleRiskAssessment, d.Rule)
	assert.Contains(t, d.Reason, "timeout")

	// Unpriced markets never reach the assessor
	unpriced := &stubAssessor{ra: &model.RiskAssessment{IsApproved: true}}
	m = market(model.Over25, 0.60, 2.10)
	m.Priced = false
	d = NewGate(DefaultGateOptions(), unpriced).Review(ctx, &m)
	assert.Equal(t, RuleNoLiquidity, d.Rule)
	assert.Zero(t, unpriced.n)
}

func TestReview_EarlierRulesBeforeAssessor(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.EvaluatedMarket)
		rule   string
	}{
		{
			name:   "negative edge",
			mutate: func(m *model.EvaluatedMarket) { *m = market(model.Over25, 0.50, 1.30) },
			rule:   RuleMinEdge,
		},
		{
			name:   "not whitelisted",
			mutate: func(m *model.EvaluatedMarket) { m.MarketID = "CORNERS_OVER_9_5" },
			rule:   RuleWhitelist,
		},
		{
			name:   "odds out of bounds",
			mutate: func(m *model.EvaluatedMarket) { m.Odds = 25 },
			rule:   RuleOddsBounds,
		},
		{
			name:   "low edge score",
			mutate: func(m *model.EvaluatedMarket) { m.EdgeScore = 10 },
			rule:   RuleMinEdgeScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			down := &stubAssessor{err: errors.New("risk service down")}
			g := NewGate(DefaultGateOptions(), down)

			m := market(model.Over25, 0.60, 2.10)
			tt.mutate(&m)

			d := g.Review(context.Background(), &m)
			assert.Equal(t, tt.rule, d.Rule)
			assert.Equal(t, g.Evaluate(m), d)
			assert.Zero(t, down.n)
			assert.Nil(t, m.RiskAssessment)
		})
	}
}

func TestBookmakerRiskAssessor(t *testing.T) {
	ctx := context.Background()
	r := NewBookmakerRiskAssessor([]string{" ShadyBet ", ""}, 8.0)

	m := market(model.Over25, 0.60, 2.10)
	ra, err := r.Assess(ctx, m)
	require.NoError(t, err)
	assert.True(t, ra.IsApproved)

	m.Bookmaker = "shadybet"
	ra, err = r.Assess(ctx, m)
	require.NoError(t, err)
	assert.False(t, ra.IsApproved)
	assert.Contains(t, ra.RejectionReason, "blocklisted")

	m.Bookmaker = "alpha"
	m.Odds = 9.0
	ra, err = r.Assess(ctx, m)
	require.NoError(t, err)
	assert.False(t, ra.IsApproved)
	assert.Contains(t, ra.RejectionReason, "exposure")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Assess(cancelled, m)
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	g := NewGate(DefaultGateOptions(), nil)
	markets := []model.EvaluatedMarket{
		market(model.Over25, 0.60, 2.10),
		market(model.Over25, 0.50, 1.30),
		market(model.BTTSYes, 0.62, 2.00),
	}
	markets[2].FixtureID = "fx-2"

	approved, rejected := g.Filter(context.Background(), markets)
	require.Len(t, approved, 2)
	require.Len(t, rejected, 1)
	assert.Equal(t, "fx-1", approved[0].FixtureID)
	assert.Equal(t, "fx-2", approved[1].FixtureID)
	assert.Equal(t, RuleMinEdge, rejected[0].Rule)
}

func TestFilter_Concurrent(t *testing.T) {
	g := NewGate(DefaultGateOptions(), NewBookmakerRiskAssessor([]string{"blocked"}, 0))

	var markets []model.EvaluatedMarket
	for i := 0; i < 250; i++ {
		m := market(model.Over25, 0.60, 2.10)
		m.FixtureID = fmt.Sprintf("fx-%03d", i)
		if i%5 == 0 {
			m.Bookmaker = "blocked"
		}
		markets = append(markets, m)
	}

	approved, rejected := g.Filter(context.Background(), markets)
	assert.Len(t, approved, 200)
	assert.Len(t, rejected, 50)
	for i := 1; i < len(approved); i++ {
		assert.Less(t, approved[i-1].FixtureID, approved[i].FixtureID)
	}
	for _, r := range rejected {
		assert.Equal(t, RuleRiskAssessment, r.Rule)
	}
}
