// Package evaluate compares model probabilities with bookmaker prices and
// scores every candidate market of a fixture.
package evaluate

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/goalmodel"
	"github.com/yourorg/accafreeze-engine/internal/markets"
	"github.com/yourorg/accafreeze-engine/internal/model"
	"github.com/yourorg/accafreeze-engine/internal/odds"
	"github.com/yourorg/accafreeze-engine/internal/scorematrix"
)

// Confidence factor weights
const (
	weightAttackSample = 0.25
	weightDefence      = 0.20
	weightMarket       = 0.20
	weightForm         = 0.20
	weightInjury       = 0.15

	// injuryPlaceholder stands in until an availability feed exists
	injuryPlaceholder = 0.75

	minConfidence = 40.0
	maxConfidence = 95.0
)

// Options configures the evaluator
type Options struct {
	// Markets restricts evaluation to these ids; empty means every derived market
	Markets []model.MarketID `yaml:"markets"`

	// CorrectScore enables correct-score markets when Markets is set
	CorrectScore bool `yaml:"correct_score"`

	MaxGoals    int                 `yaml:"max_goals"`
	Calibration markets.Calibration `yaml:"calibration"`

	// IntervalZ scales the lambda perturbation of the confidence interval
	IntervalZ float64 `yaml:"interval_z"`

	// Edge score normalisation: edge at which the edge component saturates
	EdgeScoreCap float64 `yaml:"edge_score_cap"`
}

// DefaultOptions returns the production evaluator settings
func DefaultOptions() Options {
	return Options{
		MaxGoals:     scorematrix.DefaultMaxGoals,
		Calibration:  markets.DefaultCalibration(),
		IntervalZ:    1.0,
		EdgeScoreCap: 0.15,
	}
}

// FixtureInput carries everything needed to evaluate one fixture
type FixtureInput struct {
	Fixture  model.Fixture
	Home     model.TeamStats
	Away     model.TeamStats
	HomeRank int
	AwayRank int
	Quotes   []model.OddsQuote
}

// FixtureEvaluation is the result for one fixture
type FixtureEvaluation struct {
	FixtureID     string                  `json:"fixture_id"`
	HomeRate      model.TeamRate          `json:"home_rate"`
	AwayRate      model.TeamRate          `json:"away_rate"`
	Lambdas       model.LambdaPair        `json:"lambdas"`
	Probabilities markets.Probabilities   `json:"probabilities"`
	Markets       []model.EvaluatedMarket `json:"markets"`
}

// Evaluator composes the goal model, score matrix, market deriver and odds
// matcher. It is safe for concurrent use.
type Evaluator struct {
	goals   *goalmodel.Model
	matcher *odds.Matcher
	opts    Options
	allowed map[model.MarketID]bool
}

// New creates an evaluator
func New(goals *goalmodel.Model, matcher *odds.Matcher, opts Options) *Evaluator {
	e := &Evaluator{goals: goals, matcher: matcher, opts: opts}
	if len(opts.Markets) > 0 {
		e.allowed = make(map[model.MarketID]bool, len(opts.Markets))
		for _, id := range opts.Markets {
			e.allowed[id] = true
		}
	}
	return e
}

// EvaluateFixture evaluates every eligible market of one fixture. Markets
// without a matching price are returned with Priced=false.
func (e *Evaluator) EvaluateFixture(in FixtureInput) FixtureEvaluation {
	home := e.goals.Blend(in.Home, in.HomeRank)
	away := e.goals.Blend(in.Away, in.AwayRank)
	lambdas := e.goals.Lambdas(home, away)

	matrix := scorematrix.New(lambdas, e.opts.MaxGoals)
	probs := markets.Derive(matrix, e.opts.Calibration)

	out := FixtureEvaluation{
		FixtureID:     in.Fixture.ID,
		HomeRate:      home,
		AwayRate:      away,
		Lambdas:       lambdas,
		Probabilities: probs,
	}

	ids := e.marketIDs(probs)
	prices := e.matcher.MatchAll(in.Quotes, ids)
	corners := e.corners(lambdas, minInt(home.GamesPlayed, away.GamesPlayed))

	for _, id := range ids {
		m := model.EvaluatedMarket{
			FixtureID:          in.Fixture.ID,
			MarketID:           id,
			Label:              id.Label(),
			Kind:               id.Kind(),
			Probability:        probs[id],
			ConfidenceLabel:    Label(probs[id]),
			VarianceMultiplier: VarianceMultiplier(id),
			Lambdas:            lambdas,
		}

		price := prices[id]
		m.Confidence = Confidence(home, away, price)
		if len(corners) > 0 {
			ci := interval(corners, id)
			m.ConfidenceInterval = &ci
		}

		if price.Available {
			m.Priced = true
			m.Odds = price.Best
			m.Bookmaker = price.Bookmaker
			m.BookmakerPrices = price.ByBookmaker
			m.ConsensusOdds = price.Consensus.Median
			m.Edge = Edge(m.Probability, m.Odds)
			m.EV = EV(m.Probability, m.Odds)
			m.EVAdjusted = m.EV * m.VarianceMultiplier
			m.EdgeScore = EdgeScore(m.Edge, m.Confidence, e.opts.EdgeScoreCap)
		}
		out.Markets = append(out.Markets, m)
	}

	logrus.WithFields(logrus.Fields{
		"fixture":     in.Fixture.ID,
		"lambda_home": lambdas.Home,
		"lambda_away": lambdas.Away,
		"markets":     len(out.Markets),
	}).Debug("Fixture evaluated")

	return out
}

// marketIDs lists the eligible markets in a stable order: standard markets
// first, then correct scores by descending probability.
func (e *Evaluator) marketIDs(probs markets.Probabilities) []model.MarketID {
	ids := make([]model.MarketID, 0, len(probs))
	for _, id := range model.StandardMarkets() {
		if _, ok := probs[id]; ok && e.eligible(id) {
			ids = append(ids, id)
		}
	}

	var cs []model.MarketID
	for id := range probs {
		if id.Kind() == model.KindCorrectScore && e.eligible(id) {
			cs = append(cs, id)
		}
	}
	sort.Slice(cs, func(i, j int) bool {
		if probs[cs[i]] != probs[cs[j]] {
			return probs[cs[i]] > probs[cs[j]]
		}
		return cs[i] < cs[j]
	})
	return append(ids, cs...)
}

func (e *Evaluator) eligible(id model.MarketID) bool {
	if e.allowed == nil {
		return true
	}
	if id.Kind() == model.KindCorrectScore {
		return e.opts.CorrectScore || e.allowed[id]
	}
	return e.allowed[id]
}

// corner is the model re-derived at one corner of the perturbed lambda box
type corner struct {
	matrix *scorematrix.Matrix
	probs  markets.Probabilities
}

// corners perturbs both lambdas by z*sqrt(lambda/(2n)), where n is the sample
// size behind them. No corners are returned without a sample.
func (e *Evaluator) corners(l model.LambdaPair, n int) []corner {
	if n <= 0 || e.opts.IntervalZ <= 0 {
		return nil
	}

	dh := e.opts.IntervalZ * math.Sqrt(l.Home/(2*float64(n)))
	da := e.opts.IntervalZ * math.Sqrt(l.Away/(2*float64(n)))

	out := make([]corner, 0, 4)
	for _, sh := range []float64{-1, 1} {
		for _, sa := range []float64{-1, 1} {
			m := scorematrix.New(model.LambdaPair{
				Home: math.Max(l.Home+sh*dh, 0.05),
				Away: math.Max(l.Away+sa*da, 0.05),
			}, e.opts.MaxGoals)
			out = append(out, corner{matrix: m, probs: markets.Derive(m, e.opts.Calibration)})
		}
	}
	return out
}

// interval is [min, max] of the market probability over the corners
func interval(corners []corner, id model.MarketID) model.Interval {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range corners {
		var p float64
		if h, a, ok := id.ParseCorrectScore(); ok {
			p = c.matrix.P(h, a)
		} else {
			p = c.probs[id]
		}
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	return model.Interval{Low: lo, High: hi}
}

// Edge returns p - 1/price
func Edge(p, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return p - 1/price
}

// EV returns p*price - 1
func EV(p, price float64) float64 {
	return p*price - 1
}

// Label buckets a probability into High / Medium / Low
func Label(p float64) model.ConfidenceLabel {
	switch {
	case p >= 0.65:
		return model.ConfidenceHigh
	case p >= 0.55:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// VarianceMultiplier penalises high-variance market kinds
func VarianceMultiplier(id model.MarketID) float64 {
	switch id.Kind() {
	case model.KindCorrectScore:
		return 0.70
	case model.KindResult:
		if id == model.Draw {
			return 0.85
		}
		return 0.92
	case model.KindBTTS:
		return 0.95
	default:
		return 1.00
	}
}

// EdgeScore combines edge and confidence into a 0-100 score. Non-positive
// edges score zero.
func EdgeScore(edge, confidence, saturation float64) float64 {
	if edge <= 0 {
		return 0
	}
	if saturation <= 0 {
		saturation = 0.15
	}
	return 100 * (0.6*math.Min(1, edge/saturation) + 0.4*confidence/100)
}

// Confidence returns the composite 0-100 confidence of a market, clamped to
// [40, 95].
func Confidence(home, away model.TeamRate, price odds.Price) float64 {
	attack := math.Min(1, float64(minInt(home.GamesPlayed, away.GamesPlayed))/20)
	defence := 1 - math.Min(1, math.Abs(home.AvgConceded-away.AvgConceded)/2)
	form := math.Min(1, float64(minInt(home.FormGames, away.FormGames))/6)

	score := weightAttackSample*attack +
		weightDefence*defence +
		weightMarket*marketStability(home, away, price) +
		weightForm*form +
		weightInjury*injuryPlaceholder

	return math.Max(minConfidence, math.Min(maxConfidence, 100*score))
}

// marketStability blends the rank gap with the agreement between bookmakers.
// Unknown inputs count as neutral.
func marketStability(home, away model.TeamRate, price odds.Price) float64 {
	rank := 0.5
	if home.Rank > 0 && away.Rank > 0 {
		gap := math.Abs(float64(home.Rank - away.Rank))
		rank = 0.5 + 0.5*math.Min(1, gap/15)
	}

	agreement := 0.5
	if price.Available && price.Consensus.Count >= 2 {
		agreement = 1 - math.Min(1, price.Consensus.Dispersion/0.10)
	}
	return (rank + agreement) / 2
}

// Rank sorts markets by EVAdjusted desc, then fixture id, then market id
func Rank(ms []model.EvaluatedMarket) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].EVAdjusted != ms[j].EVAdjusted {
			return ms[i].EVAdjusted > ms[j].EVAdjusted
		}
		if ms[i].FixtureID != ms[j].FixtureID {
			return ms[i].FixtureID < ms[j].FixtureID
		}
		return ms[i].MarketID < ms[j].MarketID
	})
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
