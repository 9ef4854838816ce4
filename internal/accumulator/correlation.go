package accumulator

import (
	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Family groups markets whose outcomes move together
type Family string

// Correlation families. Correct scores belong to none.
const (
	FamilyNone   Family = ""
	FamilyTotals Family = "totals"
	FamilyBTTS   Family = "btts"
	FamilyResult Family = "result"
)

// FamilyOf returns the correlation family of a market id
func FamilyOf(id model.MarketID) Family {
	switch id.Kind() {
	case model.KindTotals:
		return FamilyTotals
	case model.KindBTTS:
		return FamilyBTTS
	case model.KindResult:
		return FamilyResult
	}
	return FamilyNone
}

// Scope decides which pairs of legs are compared
type Scope string

const (
	// ScopeFixture only compares legs of the same fixture
	ScopeFixture Scope = "fixture"
	// ScopeSlip compares any two legs of the slip
	ScopeSlip Scope = "slip"
)

// Detector flags leg pairs that should not share a slip
type Detector struct {
	Scope Scope
}

// NewDetector creates a detector; an empty scope means ScopeFixture
func NewDetector(scope Scope) Detector {
	if scope == "" {
		scope = ScopeFixture
	}
	return Detector{Scope: scope}
}

// Correlated reports whether a and b share a family within the scope. It is
// symmetric and false for a leg compared with itself.
func (d Detector) Correlated(a, b *model.EvaluatedMarket) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b || (a.FixtureID == b.FixtureID && a.MarketID == b.MarketID) {
		return false
	}
	if d.Scope != ScopeSlip && a.FixtureID != b.FixtureID {
		return false
	}

	fa := FamilyOf(a.MarketID)
	return fa != FamilyNone && fa == FamilyOf(b.MarketID)
}
