package accumulator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

func leg(fixture string, id model.MarketID, p, odds float64) *model.EvaluatedMarket {
	return &model.EvaluatedMarket{
		FixtureID:   fixture,
		MarketID:    id,
		Kind:        id.Kind(),
		Probability: p,
		Priced:      true,
		Odds:        odds,
	}
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, FamilyTotals, FamilyOf(model.Over25))
	assert.Equal(t, FamilyTotals, FamilyOf(model.Under15))
	assert.Equal(t, FamilyBTTS, FamilyOf(model.BTTSNo))
	assert.Equal(t, FamilyResult, FamilyOf(model.HomeWin))
	assert.Equal(t, FamilyResult, FamilyOf(model.DC12))
	assert.Equal(t, FamilyNone, FamilyOf(model.CorrectScoreID(1, 0)))
}

func TestDetector_Correlated(t *testing.T) {
	over := leg("fx-1", model.Over25, 0.6, 1.8)
	under := leg("fx-1", model.Under35, 0.7, 1.4)
	btts := leg("fx-1", model.BTTSYes, 0.55, 1.9)
	otherOver := leg("fx-2", model.Over15, 0.8, 1.3)
	cs1 := leg("fx-1", model.CorrectScoreID(1, 1), 0.1, 9)
	cs2 := leg("fx-1", model.CorrectScoreID(2, 1), 0.09, 10)

	fixture := NewDetector("")
	slip := NewDetector(ScopeSlip)

	tests := []struct {
		name      string
		a, b      *model.EvaluatedMarket
		inFixture bool
		inSlip    bool
	}{
		{"same family same fixture", over, under, true, true},
		{"different family", over, btts, false, false},
		{"same family other fixture", over, otherOver, false, true},
		{"correct scores", cs1, cs2, false, false},
		{"self", over, over, false, false},
		{"nil", over, nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.inFixture, fixture.Correlated(tt.a, tt.b))
			assert.Equal(t, tt.inFixture, fixture.Correlated(tt.b, tt.a))
			assert.Equal(t, tt.inSlip, slip.Correlated(tt.a, tt.b))
			assert.Equal(t, tt.inSlip, slip.Correlated(tt.b, tt.a))
		})
	}
}

func TestBuild_FiveSafeOneFreeze(t *testing.T) {
	legs := []*model.EvaluatedMarket{
		leg("fx-1", model.Over15, 0.80, 1.30),
		leg("fx-2", model.DC1X, 0.78, 1.35),
		leg("fx-3", model.Under35, 0.74, 1.40),
		leg("fx-4", model.BTTSNo, 0.62, 1.70),
		leg("fx-5", model.HomeWin, 0.58, 1.85),
		leg("fx-6", model.CorrectScoreID(1, 1), 0.12, 9.0),
	}

	accas := NewBuilder(DefaultOptions()).Build(legs)
	require.Len(t, accas, 1)

	acca := accas[0]
	require.Len(t, acca.Legs, 5)
	safe := 0
	for _, l := range acca.Legs {
		if l.Role == model.RoleSafe {
			safe++
		}
	}
	assert.Equal(t, 4, safe)
	assert.Equal(t, "fx-6", acca.FreezeLeg().FixtureID)

	// Greedy takes the four most probable safe legs
	for _, l := range acca.Legs[:4] {
		assert.NotEqual(t, "fx-5", l.FixtureID)
	}

	assert.InDelta(t, 1.30*1.35*1.40*1.70*9.0, acca.CombinedOdds, 1e-9)
	assert.InDelta(t, 0.80*0.78*0.74*0.62*0.12, acca.CombinedProbability, 1e-12)
	assert.InDelta(t, 0.6*acca.CombinedProbability+0.4*0.9, acca.Score, 1e-12)
	assert.NotEmpty(t, acca.ID)
}

func TestBuild_DeterministicIDs(t *testing.T) {
	mk := func() []*model.EvaluatedMarket {
		return []*model.EvaluatedMarket{
			leg("fx-1", model.Over15, 0.80, 1.30),
			leg("fx-2", model.DC1X, 0.78, 1.35),
			leg("fx-3", model.Under35, 0.74, 1.40),
			leg("fx-4", model.BTTSNo, 0.62, 1.70),
			leg("fx-5", model.Over25, 0.35, 2.80),
		}
	}
	b := NewBuilder(DefaultOptions())
	first := b.Build(mk())
	second := b.Build(mk())
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestBuild_NotEnoughLegs(t *testing.T) {
	b := NewBuilder(DefaultOptions())

	tests := []struct {
		name string
		legs []*model.EvaluatedMarket
	}{
		{"empty", nil},
		{"three safe", []*model.EvaluatedMarket{
			leg("fx-1", model.Over15, 0.8, 1.3),
			leg("fx-2", model.Over15, 0.8, 1.3),
			leg("fx-3", model.Over15, 0.8, 1.3),
			leg("fx-4", model.Over25, 0.3, 3.0),
		}},
		{"no freeze", []*model.EvaluatedMarket{
			leg("fx-1", model.Over15, 0.8, 1.3),
			leg("fx-2", model.Over15, 0.8, 1.3),
			leg("fx-3", model.Over15, 0.8, 1.3),
			leg("fx-4", model.Over15, 0.8, 1.3),
		}},
		{"safe legs share fixtures", []*model.EvaluatedMarket{
			leg("fx-1", model.Over15, 0.8, 1.3),
			leg("fx-1", model.BTTSNo, 0.7, 1.4),
			leg("fx-2", model.Over15, 0.8, 1.3),
			leg("fx-2", model.DC1X, 0.7, 1.4),
			leg("fx-3", model.Over25, 0.3, 3.0),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, b.Build(tt.legs))
		})
	}
}

func TestBuild_SkipsUnpricedAndFreezeFixture(t *testing.T) {
	unpriced := leg("fx-7", model.Over15, 0.95, 1.25)
	unpriced.Priced = false

	legs := []*model.EvaluatedMarket{
		unpriced,
		leg("fx-5", model.Over15, 0.90, 1.20),
		leg("fx-1", model.Over15, 0.80, 1.30),
		leg("fx-2", model.DC1X, 0.78, 1.35),
		leg("fx-3", model.Under35, 0.74, 1.40),
		leg("fx-4", model.BTTSNo, 0.62, 1.70),
		leg("fx-5", model.CorrectScoreID(2, 1), 0.09, 11),
	}

	accas := NewBuilder(DefaultOptions()).Build(legs)
	require.Len(t, accas, 1)
	for _, l := range accas[0].Legs {
		assert.NotEqual(t, "fx-7", l.FixtureID)
		if l.Role == model.RoleSafe {
			assert.NotEqual(t, "fx-5", l.FixtureID)
		}
	}
}

func TestBuild_FixtureScopeAllowsSameFamilyAcrossFixtures(t *testing.T) {
	legs := []*model.EvaluatedMarket{
		leg("fx-1", model.Over15, 0.86, 1.25),
		leg("fx-2", model.Under35, 0.84, 1.30),
		leg("fx-3", model.Over15, 0.82, 1.28),
		leg("fx-4", model.Under35, 0.80, 1.35),
		leg("fx-5", model.Over25, 0.40, 3.10),
	}

	accas := NewBuilder(DefaultOptions()).Build(legs)
	require.Len(t, accas, 1)

	var families []Family
	for _, l := range accas[0].Legs {
		families = append(families, FamilyOf(l.MarketID))
	}
	assert.Equal(t, []Family{FamilyTotals, FamilyTotals, FamilyTotals, FamilyTotals, FamilyTotals}, families)
	assert.False(t, NewDetector(ScopeFixture).Correlated(legs[0], legs[1]))
	assert.True(t, NewDetector(ScopeSlip).Correlated(legs[0], legs[1]))
}

func TestBuild_SlipScopeAvoidsCorrelatedLegs(t *testing.T) {
	legs := []*model.EvaluatedMarket{
		leg("fx-1", model.Over15, 0.85, 1.25),
		leg("fx-2", model.Over15, 0.84, 1.25),
		leg("fx-3", model.BTTSNo, 0.70, 1.45),
		leg("fx-4", model.DC1X, 0.69, 1.45),
		leg("fx-5", model.CorrectScoreID(0, 0), 0.08, 12),
	}

	opts := DefaultOptions()
	assert.Len(t, NewBuilder(opts).Build(legs), 1)

	// Two totals legs cannot share a slip-wide acca, leaving only three legs
	opts.Scope = ScopeSlip
	assert.Empty(t, NewBuilder(opts).Build(legs))
}

func TestBuild_ExhaustiveBeatsGreedy(t *testing.T) {
	// Slip-wide, greedy takes the fx-1 totals leg first, which blocks both
	// the fx-1 btts leg and the fx-2 totals leg.
	legs := []*model.EvaluatedMarket{
		leg("fx-1", model.Over15, 0.95, 1.20),
		leg("fx-1", model.BTTSNo, 0.90, 1.25),
		leg("fx-2", model.Under35, 0.90, 1.25),
		leg("fx-3", model.DC1X, 0.89, 1.25),
		leg("fx-4", model.MarketID("DNB_HOME"), 0.80, 1.40),
		leg("fx-5", model.BTTSYes, 0.30, 1.90),
		leg("fx-6", model.CorrectScoreID(1, 0), 0.10, 9),
	}

	opts := DefaultOptions()
	opts.Scope = ScopeSlip
	greedy := NewBuilder(opts).Build(legs)
	require.Len(t, greedy, 1)
	assert.InDelta(t, 0.95*0.89*0.80*0.30*0.10, greedy[0].CombinedProbability, 1e-12)

	opts.Search = SearchExhaustive
	exhaustive := NewBuilder(opts).Build(legs)
	require.Len(t, exhaustive, 1)
	assert.InDelta(t, 0.90*0.90*0.89*0.80*0.10, exhaustive[0].CombinedProbability, 1e-12)
	assert.Greater(t, exhaustive[0].Score, greedy[0].Score)

	// Above the pool limit the builder falls back to greedy
	opts.MaxExhaustivePool = 3
	fallback := NewBuilder(opts).Build(legs)
	require.Len(t, fallback, 1)
	assert.Equal(t, greedy[0].ID, fallback[0].ID)
}

func TestBuild_ExhaustivePicksBestSubset(t *testing.T) {
	// fx-1 offers two safe markets, only one of which may be used
	legs := []*model.EvaluatedMarket{
		leg("fx-1", model.Over15, 0.92, 1.20),
		leg("fx-1", model.DC1X, 0.91, 1.20),
		leg("fx-2", model.Over15, 0.70, 1.40),
		leg("fx-3", model.Over15, 0.69, 1.40),
		leg("fx-4", model.Over15, 0.68, 1.40),
		leg("fx-9", model.CorrectScoreID(1, 1), 0.11, 8.5),
	}

	opts := DefaultOptions()
	opts.Search = SearchExhaustive
	accas := NewBuilder(opts).Build(legs)
	require.Len(t, accas, 1)
	assert.InDelta(t, 0.92*0.70*0.69*0.68*0.11, accas[0].CombinedProbability, 1e-12)
}

func TestBuild_TopNAndOrdering(t *testing.T) {
	var legs []*model.EvaluatedMarket
	for i := 0; i < 4; i++ {
		legs = append(legs, leg(fmt.Sprintf("safe-%d", i), model.Over15, 0.8, 1.3))
	}
	for i := 0; i < 6; i++ {
		legs = append(legs, leg(fmt.Sprintf("freeze-%d", i), model.CorrectScoreID(1, 0), 0.1, 3+float64(i)))
	}

	opts := DefaultOptions()
	opts.TopN = 3
	accas := NewBuilder(opts).Build(legs)
	require.Len(t, accas, 3)
	for i := 1; i < len(accas); i++ {
		assert.GreaterOrEqual(t, accas[i-1].Score, accas[i].Score)
	}
	assert.Equal(t, 8.0, accas[0].FreezeLeg().Odds)
}
