// Package model defines the core data structures for the accafreeze engine.
// These records flow through the entire pipeline and are the output contract
// served to the API layer, so they carry no behavior beyond small helpers.
package model

import (
	"time"
)

// TeamRate is the blended attacking/defensive profile of one team.
type TeamRate struct {
	// AvgScored is the blended goals scored per game
	AvgScored float64 `json:"avg_scored"`

	// AvgConceded is the blended goals conceded per game
	AvgConceded float64 `json:"avg_conceded"`

	// GamesPlayed is the sample size behind the rates (season, else form)
	GamesPlayed int `json:"games_played"`

	// Rank is the league position, 0 when unknown
	Rank int `json:"rank"`

	// FormPPG is points per game over the recent-form window
	FormPPG float64 `json:"form_ppg"`

	// FormGames is the size of the recent-form window
	FormGames int `json:"form_games"`

	// Defaulted marks a rate built from fallback values
	Defaulted bool `json:"defaulted,omitempty"`
}

// TeamSample is a raw statistics sample for one team over one window
// (a full season or the recent-form window).
type TeamSample struct {
	GamesPlayed int `json:"games_played"`
	Scored      int `json:"scored"`
	Conceded    int `json:"conceded"`
	Points      int `json:"points"`
}

// TeamStats is what the data provider returns for one team.
type TeamStats struct {
	TeamID string      `json:"team_id"`
	Season *TeamSample `json:"season,omitempty"`
	Form   *TeamSample `json:"form,omitempty"`
}

// LambdaPair holds the expected goals for both sides of a fixture.
type LambdaPair struct {
	Home float64 `json:"lambda_home"`
	Away float64 `json:"lambda_away"`
}

// Advantage returns the raw lambda advantage of the home side.
func (l LambdaPair) Advantage() float64 {
	return l.Home - l.Away
}

// Fixture is the provider's description of one match.
type Fixture struct {
	ID       string    `json:"id"`
	HomeTeam string    `json:"home_team"`
	AwayTeam string    `json:"away_team"`
	HomeName string    `json:"home_name,omitempty"`
	AwayName string    `json:"away_name,omitempty"`
	SeasonID string    `json:"season_id"`
	Kickoff  time.Time `json:"kickoff"`
}

// OddsQuote is a single bookmaker price as delivered by the provider.
// MarketID and Label are provider-specific identifiers.
type OddsQuote struct {
	Bookmaker string   `json:"bookmaker"`
	MarketID  string   `json:"market_id"`
	Label     string   `json:"label"`
	Threshold *float64 `json:"threshold,omitempty"`
	Price     float64  `json:"price"`
}

// RiskAssessment is the verdict of an external risk collaborator.
type RiskAssessment struct {
	IsApproved      bool   `json:"is_approved"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// Interval is a closed probability interval.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Width returns High - Low.
func (i Interval) Width() float64 {
	return i.High - i.Low
}

// ConfidenceLabel buckets a probability into a coarse label.
type ConfidenceLabel string

// Confidence labels
const (
	ConfidenceHigh   ConfidenceLabel = "High"
	ConfidenceMedium ConfidenceLabel = "Medium"
	ConfidenceLow    ConfidenceLabel = "Low"
)

// EvaluatedMarket is one candidate market for one fixture, compared against
// the best available bookmaker price.
type EvaluatedMarket struct {
	FixtureID string     `json:"fixture_id"`
	MarketID  MarketID   `json:"market_id"`
	Label     string     `json:"label"`
	Kind      MarketKind `json:"kind"`

	// Probability is the model probability of the selection
	Probability float64 `json:"probability"`

	// Priced is false when no bookmaker quote matched (no liquidity).
	// Odds, Bookmaker, Edge and EV are zero in that case.
	Priced          bool               `json:"priced"`
	Odds            float64            `json:"odds,omitempty"`
	Bookmaker       string             `json:"bookmaker,omitempty"`
	BookmakerPrices map[string]float64 `json:"bookmaker_prices,omitempty"`
	ConsensusOdds   float64            `json:"consensus_odds,omitempty"`

	// Edge = Probability - 1/Odds
	Edge float64 `json:"edge"`

	// EV = Probability*Odds - 1
	EV float64 `json:"ev"`

	// EVAdjusted = EV * VarianceMultiplier
	EVAdjusted float64 `json:"ev_adjusted"`

	ConfidenceLabel    ConfidenceLabel `json:"confidence_label"`
	Confidence         float64         `json:"confidence"`
	EdgeScore          float64         `json:"edge_score"`
	VarianceMultiplier float64         `json:"variance_multiplier"`

	ConfidenceInterval *Interval       `json:"confidence_interval,omitempty"`
	RiskAssessment     *RiskAssessment `json:"risk_assessment,omitempty"`

	Lambdas LambdaPair `json:"lambdas"`
}

// PublishedPrediction is the frozen, checksummed record of the one market
// published for a fixture. Everything except the freeze fields is immutable
// once written.
type PublishedPrediction struct {
	FixtureID   string    `json:"fixture_id"`
	LambdaHome  float64   `json:"lambda_home"`
	LambdaAway  float64   `json:"lambda_away"`
	MarketID    MarketID  `json:"market_id"`
	Probability float64   `json:"probability"`
	Odds        float64   `json:"odds"`
	EVAdjusted  float64   `json:"ev_adjusted"`
	Confidence  float64   `json:"confidence"`
	Checksum    string    `json:"checksum"`
	PublishedAt time.Time `json:"published_at"`

	// Freeze fields, written exactly once after the result is known
	IsFrozen   bool       `json:"is_frozen"`
	Result     string     `json:"result,omitempty"`
	ProfitLoss float64    `json:"profit_loss"`
	FrozenAt   *time.Time `json:"frozen_at,omitempty"`
}

// Settlement results
const (
	ResultWon  = "won"
	ResultLost = "lost"
	ResultVoid = "void"
)

// LegRole distinguishes the base legs of an accumulator from its freeze leg.
type LegRole string

// Leg roles
const (
	RoleSafe   LegRole = "safe"
	RoleFreeze LegRole = "freeze"
)

// AccaLeg references an evaluated market; the market itself is shared with
// the daily pool and must not be modified through the leg.
type AccaLeg struct {
	Role LegRole `json:"role"`
	*EvaluatedMarket
}

// AccaFreeze is a 5-leg accumulator: four safe legs plus one freeze leg.
type AccaFreeze struct {
	ID                  string    `json:"id"`
	Legs                []AccaLeg `json:"legs"`
	CombinedOdds        float64   `json:"combined_odds"`
	CombinedProbability float64   `json:"combined_probability"`
	Score               float64   `json:"score"`
}

// FreezeLeg returns the freeze leg of the slip, or nil for a malformed slip.
func (a AccaFreeze) FreezeLeg() *EvaluatedMarket {
	for _, leg := range a.Legs {
		if leg.Role == RoleFreeze {
			return leg.EvaluatedMarket
		}
	}
	return nil
}
