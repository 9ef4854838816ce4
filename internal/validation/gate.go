// Package validation decides which evaluated markets may be published.
package validation

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// State is the lifecycle state of a market in the gate
type State string

// Gate states
const (
	StateCandidate State = "candidate"
	StatePublished State = "published"
	StateRejected  State = "rejected"
)

// Rule names, in evaluation order. RuleNoLiquidity runs before all others.
const (
	RuleNoLiquidity        = "no-liquidity"
	RuleWhitelist          = "whitelist"
	RuleOddsBounds         = "odds-bounds"
	RuleMinEdge            = "min-edge"
	RuleMinEV              = "min-ev"
	RuleMinConfidence      = "min-confidence"
	RuleMinEdgeScore       = "min-edge-score"
	RuleRiskAssessment     = "risk-assessment"
	RuleResultFloors       = "result-floors"
	RuleCorrectScoreFloors = "correct-score-floors"
	RuleVariance           = "variance"
	RuleIntervalWidth      = "interval-width"
)

// Decision is the gate's verdict on one market. Rule and Reason are empty for
// approved markets.
type Decision struct {
	State  State  `json:"state"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Approved reports whether the market passed every rule
func (d Decision) Approved() bool {
	return d.State == StatePublished
}

// GateOptions holds every threshold of the validation gate
type GateOptions struct {
	// Whitelist of market ids; empty allows every standard market
	Whitelist []model.MarketID `yaml:"whitelist"`

	// AllowCorrectScore admits correct-score markets
	AllowCorrectScore bool `yaml:"allow_correct_score"`

	MinOdds       float64 `yaml:"min_odds"`
	MaxOdds       float64 `yaml:"max_odds"`
	MinEdge       float64 `yaml:"min_edge"`
	MinEV         float64 `yaml:"min_ev"`
	MinConfidence float64 `yaml:"min_confidence"`
	MinEdgeScore  float64 `yaml:"min_edge_score"`

	// Floors for result markets (1X2 and double chance)
	ResultMinProbability float64 `yaml:"result_min_probability"`
	ResultMinEdge        float64 `yaml:"result_min_edge"`
	ResultMinEV          float64 `yaml:"result_min_ev"`

	// Floors for correct-score markets
	CorrectScoreMinProbability float64 `yaml:"correct_score_min_probability"`
	CorrectScoreMinEdge        float64 `yaml:"correct_score_min_edge"`
	CorrectScoreMinConfidence  float64 `yaml:"correct_score_min_confidence"`
	CorrectScoreMinEV          float64 `yaml:"correct_score_min_ev"`

	// Markets with a variance multiplier below HighVarianceBelow need
	// EVAdjusted of at least HighVarianceMinEVAdjusted
	HighVarianceBelow         float64 `yaml:"high_variance_below"`
	HighVarianceMinEVAdjusted float64 `yaml:"high_variance_min_ev_adjusted"`

	MaxIntervalWidth float64 `yaml:"max_interval_width"`
}

// DefaultGateOptions returns the production thresholds
func DefaultGateOptions() GateOptions {
	return GateOptions{
		AllowCorrectScore:          true,
		MinOdds:                    1.20,
		MaxOdds:                    20.50,
		MinEdge:                    0.02,
		MinEV:                      0.04,
		MinConfidence:              55,
		MinEdgeScore:               40,
		ResultMinProbability:       0.45,
		ResultMinEdge:              0.04,
		ResultMinEV:                0.06,
		CorrectScoreMinProbability: 0.10,
		CorrectScoreMinEdge:        0.05,
		CorrectScoreMinConfidence:  65,
		CorrectScoreMinEV:          0.15,
		HighVarianceBelow:          0.90,
		HighVarianceMinEVAdjusted:  0.12,
		MaxIntervalWidth:           0.25,
	}
}

// RiskAssessor is an external risk collaborator
type RiskAssessor interface {
	Assess(ctx context.Context, m model.EvaluatedMarket) (*model.RiskAssessment, error)
}

// Gate applies the validation rules in a fixed order; the first failing rule
// decides. It is safe for concurrent use.
type Gate struct {
	opts      GateOptions
	whitelist map[model.MarketID]bool
	risk      RiskAssessor
}

// NewGate creates a gate. risk may be nil.
func NewGate(opts GateOptions, risk RiskAssessor) *Gate {
	g := &Gate{opts: opts, risk: risk}
	if len(opts.Whitelist) > 0 {
		g.whitelist = make(map[model.MarketID]bool, len(opts.Whitelist))
		for _, id := range opts.Whitelist {
			g.whitelist[id] = true
		}
	}
	return g
}

// Options returns the thresholds in use
func (g *Gate) Options() GateOptions {
	return g.opts
}

// Review evaluates m, consulting the risk assessor once the market has
// passed rules 1 to 6. The verdict is stored on m. An assessor error
// rejects the market.
func (g *Gate) Review(ctx context.Context, m *model.EvaluatedMarket) Decision {
	if d := g.screen(*m); !d.Approved() {
		return d
	}
	if g.risk != nil && m.RiskAssessment == nil {
		ra, err := g.risk.Assess(ctx, *m)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"fixture": m.FixtureID,
				"market":  m.MarketID,
				"error":   err,
			}).Warn("Risk assessment failed")
			return reject(RuleRiskAssessment, fmt.Sprintf("risk assessment unavailable: %v", err))
		}
		m.RiskAssessment = ra
	}
	return g.finish(*m)
}

// Evaluate runs the rules against an already evaluated market
func (g *Gate) Evaluate(m model.EvaluatedMarket) Decision {
	if d := g.screen(m); !d.Approved() {
		return d
	}
	return g.finish(m)
}

// screen applies the liquidity check and rules 1 to 6
func (g *Gate) screen(m model.EvaluatedMarket) Decision {
	o := g.opts

	if !m.Priced {
		return reject(RuleNoLiquidity, "no bookmaker price available")
	}

	// 1
	if !g.allowed(m.MarketID) {
		return reject(RuleWhitelist, fmt.Sprintf("market %s is not whitelisted", m.MarketID))
	}
	// 2
	if m.Odds < o.MinOdds || m.Odds > o.MaxOdds {
		return reject(RuleOddsBounds, fmt.Sprintf("odds %.2f outside [%.2f, %.2f]", m.Odds, o.MinOdds, o.MaxOdds))
	}
	// 3
	if m.Edge < o.MinEdge {
		return reject(RuleMinEdge, fmt.Sprintf("edge %.4f below minimum %.4f", m.Edge, o.MinEdge))
	}
	// 4
	if m.EV < o.MinEV {
		return reject(RuleMinEV, fmt.Sprintf("EV %.4f below minimum %.4f", m.EV, o.MinEV))
	}
	// 5
	if m.Confidence < o.MinConfidence {
		return reject(RuleMinConfidence, fmt.Sprintf("confidence %.1f below minimum %.1f", m.Confidence, o.MinConfidence))
	}
	// 6
	if m.EdgeScore < o.MinEdgeScore {
		return reject(RuleMinEdgeScore, fmt.Sprintf("edge score %.1f below minimum %.1f", m.EdgeScore, o.MinEdgeScore))
	}
	return Decision{State: StatePublished}
}

// finish applies rules 7 to 11
func (g *Gate) finish(m model.EvaluatedMarket) Decision {
	o := g.opts

	// 7
	if ra := m.RiskAssessment; ra != nil && !ra.IsApproved {
		reason := ra.RejectionReason
		if reason == "" {
			reason = "rejected by risk assessment"
		}
		return reject(RuleRiskAssessment, reason)
	}
	// 8
	if m.Kind == model.KindResult {
		switch {
		case m.Probability < o.ResultMinProbability:
			return reject(RuleResultFloors, fmt.Sprintf("result probability %.4f below %.4f", m.Probability, o.ResultMinProbability))
		case m.Edge < o.ResultMinEdge:
			return reject(RuleResultFloors, fmt.Sprintf("result edge %.4f below %.4f", m.Edge, o.ResultMinEdge))
		case m.EV < o.ResultMinEV:
			return reject(RuleResultFloors, fmt.Sprintf("result EV %.4f below %.4f", m.EV, o.ResultMinEV))
		}
	}
	// 9
	if m.Kind == model.KindCorrectScore {
		switch {
		case m.Probability < o.CorrectScoreMinProbability:
			return reject(RuleCorrectScoreFloors, fmt.Sprintf("correct score probability %.4f below %.4f", m.Probability, o.CorrectScoreMinProbability))
		case m.Edge < o.CorrectScoreMinEdge:
			return reject(RuleCorrectScoreFloors, fmt.Sprintf("correct score edge %.4f below %.4f", m.Edge, o.CorrectScoreMinEdge))
		case m.Confidence < o.CorrectScoreMinConfidence:
			return reject(RuleCorrectScoreFloors, fmt.Sprintf("correct score confidence %.1f below %.1f", m.Confidence, o.CorrectScoreMinConfidence))
		case m.EV < o.CorrectScoreMinEV:
			return reject(RuleCorrectScoreFloors, fmt.Sprintf("correct score EV %.4f below %.4f", m.EV, o.CorrectScoreMinEV))
		}
	}
	// 10
	if m.VarianceMultiplier < o.HighVarianceBelow && m.EVAdjusted < o.HighVarianceMinEVAdjusted {
		return reject(RuleVariance, fmt.Sprintf("high-variance market needs adjusted EV %.4f, got %.4f", o.HighVarianceMinEVAdjusted, m.EVAdjusted))
	}
	// 11
	if ci := m.ConfidenceInterval; ci != nil && ci.Width() > o.MaxIntervalWidth {
		return reject(RuleIntervalWidth, fmt.Sprintf("confidence interval width %.4f above %.4f", ci.Width(), o.MaxIntervalWidth))
	}

	return Decision{State: StatePublished}
}

func (g *Gate) allowed(id model.MarketID) bool {
	if id.Kind() == model.KindCorrectScore {
		return g.opts.AllowCorrectScore || g.whitelist[id]
	}
	if g.whitelist == nil {
		return id.Kind() != model.KindUnknown
	}
	return g.whitelist[id]
}

func reject(rule, reason string) Decision {
	return Decision{State: StateRejected, Rule: rule, Reason: reason}
}
