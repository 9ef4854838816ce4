// Package markets derives market probabilities from a score matrix and grades
// markets against final scores.
package markets

import (
	"fmt"
	"math"
	"sort"

	"github.com/yourorg/accafreeze-engine/internal/model"
	"github.com/yourorg/accafreeze-engine/internal/scorematrix"
)

// TopCorrectScores is the number of correct-score markets kept per fixture
const TopCorrectScores = 3

// Probabilities maps market ids to model probabilities
type Probabilities map[model.MarketID]float64

// Calibration compresses the lambda advantage into 1X2 probabilities.
//
// The raw Poisson 1X2 is too extreme for lopsided fixtures, so the result
// market is a bounded tanh curve over the lambda advantage instead.
type Calibration struct {
	HomeBase float64 `yaml:"home_base"`
	HomeSpan float64 `yaml:"home_span"`
	HomeMin  float64 `yaml:"home_min"`
	HomeMax  float64 `yaml:"home_max"`

	AwayBase float64 `yaml:"away_base"`
	AwaySpan float64 `yaml:"away_span"`
	AwayMin  float64 `yaml:"away_min"`
	AwayMax  float64 `yaml:"away_max"`

	// Steepness is k in tanh(k*advantage)
	Steepness float64 `yaml:"steepness"`

	// MinDraw is the smallest draw probability left after compression
	MinDraw float64 `yaml:"min_draw"`
}

// DefaultCalibration returns the production calibration
func DefaultCalibration() Calibration {
	return Calibration{
		HomeBase:  0.42,
		HomeSpan:  0.35,
		HomeMin:   0.28,
		HomeMax:   0.75,
		AwayBase:  0.30,
		AwaySpan:  0.30,
		AwayMin:   0.15,
		AwayMax:   0.60,
		Steepness: 0.9,
		MinDraw:   0.10,
	}
}

// Result returns the calibrated home, draw and away probabilities for the
// given lambda advantage (lambda home minus lambda away).
func (c Calibration) Result(advantage float64) (home, draw, away float64) {
	t := math.Tanh(c.Steepness * advantage)
	home = clamp(c.HomeBase+c.HomeSpan*t, c.HomeMin, c.HomeMax)
	away = clamp(c.AwayBase-c.AwaySpan*t, c.AwayMin, c.AwayMax)

	if limit := 1 - c.MinDraw; home+away > limit {
		scale := limit / (home + away)
		home *= scale
		away *= scale
	}
	return home, 1 - home - away, away
}

// Derive computes every supported market probability from the matrix.
// Correct-score entries are limited to the TopCorrectScores most likely
// in-grid scorelines.
func Derive(m *scorematrix.Matrix, cal Calibration) Probabilities {
	out := make(Probabilities, 20)

	// Totals; every tail scoreline has at least MaxGoals+1 goals
	var under15, under25, under35 float64
	var bttsGrid float64
	m.Each(func(h, a int, p float64) {
		total := h + a
		if total <= 1 {
			under15 += p
		}
		if total <= 2 {
			under25 += p
		}
		if total <= 3 {
			under35 += p
		}
		if h > 0 && a > 0 {
			bttsGrid += p
		}
	})
	if m.MaxGoals() < 3 {
		// Tail scorelines can still land under 3.5 with a tiny grid
		under35 = exactUnder(m.Lambdas(), 3)
		under25 = exactUnder(m.Lambdas(), 2)
		under15 = exactUnder(m.Lambdas(), 1)
	}
	out[model.Under15] = under15
	out[model.Over15] = 1 - under15
	out[model.Under25] = under25
	out[model.Over25] = 1 - under25
	out[model.Under35] = under35
	out[model.Over35] = 1 - under35

	// BTTS: grid cells plus the out-of-grid share of "both score"
	l := m.Lambdas()
	closed := (1 - math.Exp(-l.Home)) * (1 - math.Exp(-l.Away))
	yes := bttsGrid + math.Max(0, closed-bttsGrid)
	out[model.BTTSYes] = yes
	out[model.BTTSNo] = 1 - yes

	home, draw, away := cal.Result(l.Advantage())
	out[model.HomeWin] = home
	out[model.Draw] = draw
	out[model.AwayWin] = away
	out[model.DC1X] = home + draw
	out[model.DCX2] = draw + away
	out[model.DC12] = home + away

	for _, s := range TopScores(m, TopCorrectScores) {
		out[model.CorrectScoreID(s.Home, s.Away)] = s.P
	}
	return out
}

// Scoreline is one cell of the matrix
type Scoreline struct {
	Home int
	Away int
	P    float64
}

// TopScores returns the n most likely scorelines. Ties are broken by lower
// home goals, then lower away goals.
func TopScores(m *scorematrix.Matrix, n int) []Scoreline {
	all := make([]Scoreline, 0, (m.MaxGoals()+1)*(m.MaxGoals()+1))
	m.Each(func(h, a int, p float64) {
		all = append(all, Scoreline{Home: h, Away: a, P: p})
	})
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].P != all[j].P {
			return all[i].P > all[j].P
		}
		if all[i].Home != all[j].Home {
			return all[i].Home < all[j].Home
		}
		return all[i].Away < all[j].Away
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Grade reports whether the market won for the final score
func Grade(id model.MarketID, homeGoals, awayGoals int) (bool, error) {
	if homeGoals < 0 || awayGoals < 0 {
		return false, fmt.Errorf("invalid score %d-%d", homeGoals, awayGoals)
	}
	total := homeGoals + awayGoals

	switch id {
	case model.HomeWin:
		return homeGoals > awayGoals, nil
	case model.Draw:
		return homeGoals == awayGoals, nil
	case model.AwayWin:
		return awayGoals > homeGoals, nil
	case model.DC1X:
		return homeGoals >= awayGoals, nil
	case model.DCX2:
		return awayGoals >= homeGoals, nil
	case model.DC12:
		return homeGoals != awayGoals, nil
	case model.Over15:
		return total > 1, nil
	case model.Under15:
		return total <= 1, nil
	case model.Over25:
		return total > 2, nil
	case model.Under25:
		return total <= 2, nil
	case model.Over35:
		return total > 3, nil
	case model.Under35:
		return total <= 3, nil
	case model.BTTSYes:
		return homeGoals > 0 && awayGoals > 0, nil
	case model.BTTSNo:
		return homeGoals == 0 || awayGoals == 0, nil
	}

	if h, a, ok := id.ParseCorrectScore(); ok {
		return h == homeGoals && a == awayGoals, nil
	}
	return false, fmt.Errorf("cannot grade unknown market %q", id)
}

// exactUnder returns P(total goals <= n); the sum of two Poissons is Poisson
func exactUnder(l model.LambdaPair, n int) float64 {
	var s float64
	for _, p := range scorematrix.PMF(l.Home+l.Away, n) {
		s += p
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
