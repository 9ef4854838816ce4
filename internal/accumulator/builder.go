// Package accumulator combines evaluated markets into "4 safe + 1 freeze"
// accumulators.
package accumulator

import (
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Search selects how safe legs are chosen for a freeze leg
type Search string

const (
	SearchGreedy     Search = "greedy"
	SearchExhaustive Search = "exhaustive"
)

// accaNamespace seeds the deterministic acca ids
var accaNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("accafreeze-engine/acca"))

// Options configures the builder
type Options struct {
	SafeMinOdds   float64 `yaml:"safe_min_odds"`
	SafeMaxOdds   float64 `yaml:"safe_max_odds"`
	FreezeMinOdds float64 `yaml:"freeze_min_odds"`
	FreezeMaxOdds float64 `yaml:"freeze_max_odds"`
	SafeLegs      int     `yaml:"safe_legs"`

	Search            Search `yaml:"search"`
	MaxExhaustivePool int    `yaml:"max_exhaustive_pool"`

	// Scope of the correlation check. Build already requires every leg to
	// come from a distinct fixture, so under ScopeFixture the check never
	// rejects a leg and same-family legs of different fixtures may share a
	// slip. ScopeSlip rejects any two legs of one family.
	Scope Scope `yaml:"correlation_scope"`

	ProbabilityWeight float64 `yaml:"probability_weight"`
	OddsWeight        float64 `yaml:"odds_weight"`
	OddsNorm          float64 `yaml:"odds_norm"`
	TopN              int     `yaml:"top_n"`
}

// DefaultOptions returns the default builder options
func DefaultOptions() Options {
	return Options{
		SafeMinOdds:       1.20,
		SafeMaxOdds:       2.00,
		FreezeMinOdds:     2.50,
		FreezeMaxOdds:     20.50,
		SafeLegs:          4,
		Search:            SearchGreedy,
		MaxExhaustivePool: 24,
		Scope:             ScopeFixture,
		ProbabilityWeight: 0.6,
		OddsWeight:        0.4,
		OddsNorm:          10,
		TopN:              10,
	}
}

// Builder builds accumulators from a day's approved markets
type Builder struct {
	opts     Options
	detector Detector
}

// NewBuilder creates a builder
func NewBuilder(opts Options) *Builder {
	if opts.SafeLegs <= 0 {
		opts.SafeLegs = 4
	}
	if opts.OddsNorm <= 0 {
		opts.OddsNorm = 10
	}
	if opts.Search == "" {
		opts.Search = SearchGreedy
	}
	return &Builder{opts: opts, detector: NewDetector(opts.Scope)}
}

// Options returns the builder options
func (b *Builder) Options() Options {
	return b.opts
}

// Build returns the best accumulators, sorted by score descending then id.
// Unpriced markets are ignored. Fewer safe legs than required or no freeze
// candidate yields an empty result.
func (b *Builder) Build(legs []*model.EvaluatedMarket) []model.AccaFreeze {
	safe, freeze := b.pools(legs)
	if len(safe) < b.opts.SafeLegs || len(freeze) == 0 {
		logrus.WithFields(logrus.Fields{
			"safe":   len(safe),
			"freeze": len(freeze),
		}).Debug("Not enough legs for an accumulator")
		return nil
	}

	var accas []model.AccaFreeze
	for _, f := range freeze {
		var picked []*model.EvaluatedMarket
		if b.opts.Search == SearchExhaustive && len(safe) <= b.opts.MaxExhaustivePool {
			picked = b.exhaustive(safe, f)
		} else {
			picked = b.greedy(safe, f)
		}
		if len(picked) < b.opts.SafeLegs {
			continue
		}
		accas = append(accas, b.assemble(picked, f))
	}

	sort.SliceStable(accas, func(i, j int) bool {
		if accas[i].Score != accas[j].Score {
			return accas[i].Score > accas[j].Score
		}
		return accas[i].ID < accas[j].ID
	})
	if b.opts.TopN > 0 && len(accas) > b.opts.TopN {
		accas = accas[:b.opts.TopN]
	}

	logrus.WithFields(logrus.Fields{
		"safe_pool":   len(safe),
		"freeze_pool": len(freeze),
		"accas":       len(accas),
		"search":      b.opts.Search,
	}).Info("Accumulators built")
	return accas
}

func (b *Builder) pools(legs []*model.EvaluatedMarket) (safe, freeze []*model.EvaluatedMarket) {
	for _, m := range legs {
		if m == nil || !m.Priced {
			continue
		}
		switch {
		case m.Odds >= b.opts.SafeMinOdds && m.Odds <= b.opts.SafeMaxOdds:
			safe = append(safe, m)
		case m.Odds >= b.opts.FreezeMinOdds && m.Odds <= b.opts.FreezeMaxOdds:
			freeze = append(freeze, m)
		}
	}

	less := func(pool []*model.EvaluatedMarket) func(i, j int) bool {
		return func(i, j int) bool {
			if pool[i].Probability != pool[j].Probability {
				return pool[i].Probability > pool[j].Probability
			}
			if pool[i].FixtureID != pool[j].FixtureID {
				return pool[i].FixtureID < pool[j].FixtureID
			}
			return pool[i].MarketID < pool[j].MarketID
		}
	}
	sort.SliceStable(safe, less(safe))
	sort.SliceStable(freeze, less(freeze))
	return safe, freeze
}

// compatible reports whether m can join the picked legs and the freeze leg
func (b *Builder) compatible(m, f *model.EvaluatedMarket, picked []*model.EvaluatedMarket) bool {
	if m.FixtureID == f.FixtureID || b.detector.Correlated(m, f) {
		return false
	}
	for _, p := range picked {
		if p.FixtureID == m.FixtureID || b.detector.Correlated(p, m) {
			return false
		}
	}
	return true
}

func (b *Builder) greedy(safe []*model.EvaluatedMarket, f *model.EvaluatedMarket) []*model.EvaluatedMarket {
	picked := make([]*model.EvaluatedMarket, 0, b.opts.SafeLegs)
	for _, m := range safe {
		if len(picked) == b.opts.SafeLegs {
			break
		}
		if b.compatible(m, f, picked) {
			picked = append(picked, m)
		}
	}
	return picked
}

// exhaustive keeps the valid subset with the highest combined probability.
// The freeze leg is fixed, so this also maximises the score.
func (b *Builder) exhaustive(safe []*model.EvaluatedMarket, f *model.EvaluatedMarket) []*model.EvaluatedMarket {
	var best []*model.EvaluatedMarket
	bestProb := -1.0
	current := make([]*model.EvaluatedMarket, 0, b.opts.SafeLegs)

	var walk func(start int, prob float64)
	walk = func(start int, prob float64) {
		if len(current) == b.opts.SafeLegs {
			if prob > bestProb {
				bestProb = prob
				best = append(best[:0], current...)
			}
			return
		}
		for i := start; i < len(safe); i++ {
			if len(safe)-i < b.opts.SafeLegs-len(current) {
				return
			}
			m := safe[i]
			if !b.compatible(m, f, current) {
				continue
			}
			current = append(current, m)
			walk(i+1, prob*m.Probability)
			current = current[:len(current)-1]
		}
	}
	walk(0, 1)
	return best
}

func (b *Builder) assemble(picked []*model.EvaluatedMarket, f *model.EvaluatedMarket) model.AccaFreeze {
	acca := model.AccaFreeze{
		Legs:                make([]model.AccaLeg, 0, len(picked)+1),
		CombinedOdds:        1,
		CombinedProbability: 1,
	}
	keys := make([]string, 0, len(picked)+1)
	for _, m := range picked {
		acca.Legs = append(acca.Legs, model.AccaLeg{Role: model.RoleSafe, EvaluatedMarket: m})
		keys = append(keys, legKey(m))
	}
	acca.Legs = append(acca.Legs, model.AccaLeg{Role: model.RoleFreeze, EvaluatedMarket: f})
	keys = append(keys, legKey(f))

	for _, leg := range acca.Legs {
		acca.CombinedOdds *= leg.Odds
		acca.CombinedProbability *= leg.Probability
	}

	acca.Score = b.opts.ProbabilityWeight*acca.CombinedProbability +
		b.opts.OddsWeight*math.Min(1, f.Odds/b.opts.OddsNorm)
	acca.ID = uuid.NewSHA1(accaNamespace, []byte(strings.Join(keys, "|"))).String()
	return acca
}

func legKey(m *model.EvaluatedMarket) string {
	return m.FixtureID + ":" + string(m.MarketID)
}
