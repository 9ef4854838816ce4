// Package goalmodel turns team statistics into expected-goal rates using the
// classic attack-versus-defence Poisson strength method.
package goalmodel

import (
	"math"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Options holds the weights and modifier thresholds of the goal model
type Options struct {
	// SeasonWeight and FormWeight blend the two samples (must sum to 1)
	SeasonWeight float64 `yaml:"season_weight"`
	FormWeight   float64 `yaml:"form_weight"`

	// DefaultScored and DefaultConceded are used when no sample is available
	DefaultScored   float64 `yaml:"default_scored"`
	DefaultConceded float64 `yaml:"default_conceded"`

	// MinRate keeps every rate and lambda strictly positive
	MinRate float64 `yaml:"min_rate"`

	// Rank-gap modifier: applied to the better-ranked side
	RankGapMinor   int     `yaml:"rank_gap_minor"`
	RankGapMajor   int     `yaml:"rank_gap_major"`
	RankBoostMinor float64 `yaml:"rank_boost_minor"`
	RankBoostMajor float64 `yaml:"rank_boost_major"`

	// Form modifier: applied to the side with the PPG advantage
	FormPPGGap float64 `yaml:"form_ppg_gap"`
	FormBoost  float64 `yaml:"form_boost"`
}

// DefaultOptions returns the production settings of the goal model
func DefaultOptions() Options {
	return Options{
		SeasonWeight:    0.4,
		FormWeight:      0.6,
		DefaultScored:   1.35,
		DefaultConceded: 1.35,
		MinRate:         0.05,
		RankGapMinor:    8,
		RankGapMajor:    15,
		RankBoostMinor:  1.15,
		RankBoostMajor:  1.25,
		FormPPGGap:      0.8,
		FormBoost:       1.10,
	}
}

// Model computes team rates and lambdas. It holds no mutable state.
type Model struct {
	opts Options
}

// New creates a goal model with the given options
func New(opts Options) *Model {
	return &Model{opts: opts}
}

// Blend combines a season sample and a recent-form sample into a TeamRate.
// A missing sample falls back to the other one; with neither, the documented
// defaults are used and the rate is flagged as defaulted.
func (m *Model) Blend(stats model.TeamStats, rank int) model.TeamRate {
	season := usable(stats.Season)
	form := usable(stats.Form)

	rate := model.TeamRate{Rank: rank}

	switch {
	case season != nil && form != nil:
		rate.AvgScored = m.opts.SeasonWeight*perGame(season.Scored, season.GamesPlayed) +
			m.opts.FormWeight*perGame(form.Scored, form.GamesPlayed)
		rate.AvgConceded = m.opts.SeasonWeight*perGame(season.Conceded, season.GamesPlayed) +
			m.opts.FormWeight*perGame(form.Conceded, form.GamesPlayed)
	case season != nil:
		rate.AvgScored = perGame(season.Scored, season.GamesPlayed)
		rate.AvgConceded = perGame(season.Conceded, season.GamesPlayed)
	case form != nil:
		rate.AvgScored = perGame(form.Scored, form.GamesPlayed)
		rate.AvgConceded = perGame(form.Conceded, form.GamesPlayed)
	default:
		logrus.WithField("team", stats.TeamID).Warn("No team sample available, using default rates")
		rate.AvgScored = m.opts.DefaultScored
		rate.AvgConceded = m.opts.DefaultConceded
		rate.Defaulted = true
	}

	if form != nil {
		rate.GamesPlayed = form.GamesPlayed
		rate.FormGames = form.GamesPlayed
		rate.FormPPG = perGame(form.Points, form.GamesPlayed)
	}
	if season != nil {
		rate.GamesPlayed = season.GamesPlayed
	}

	rate.AvgScored = math.Max(rate.AvgScored, m.opts.MinRate)
	rate.AvgConceded = math.Max(rate.AvgConceded, m.opts.MinRate)
	return rate
}

// Lambdas returns the expected goals of both sides.
//
// The base rate of each side is the mean of its scoring rate and the
// opponent's conceding rate. Rank-gap and form modifiers multiply on top.
func (m *Model) Lambdas(home, away model.TeamRate) model.LambdaPair {
	lh := (home.AvgScored + away.AvgConceded) / 2
	la := (away.AvgScored + home.AvgConceded) / 2

	// Lower rank number is the stronger side
	if home.Rank > 0 && away.Rank > 0 && home.Rank != away.Rank {
		gap := home.Rank - away.Rank
		if gap < 0 {
			gap = -gap
		}
		boost := 1.0
		switch {
		case gap > m.opts.RankGapMajor:
			boost = m.opts.RankBoostMajor
		case gap > m.opts.RankGapMinor:
			boost = m.opts.RankBoostMinor
		}
		if home.Rank < away.Rank {
			lh *= boost
		} else {
			la *= boost
		}
	}

	if home.FormGames > 0 && away.FormGames > 0 {
		diff := home.FormPPG - away.FormPPG
		if diff > m.opts.FormPPGGap {
			lh *= m.opts.FormBoost
		} else if -diff > m.opts.FormPPGGap {
			la *= m.opts.FormBoost
		}
	}

	return model.LambdaPair{
		Home: math.Max(lh, m.opts.MinRate),
		Away: math.Max(la, m.opts.MinRate),
	}
}

func usable(s *model.TeamSample) *model.TeamSample {
	if s == nil || s.GamesPlayed <= 0 {
		return nil
	}
	return s
}

func perGame(total, games int) float64 {
	if games <= 0 {
		return 0
	}
	return float64(total) / float64(games)
}
