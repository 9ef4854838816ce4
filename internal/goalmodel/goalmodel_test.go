package goalmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/accafreeze-engine/internal/model"
)

func TestBlend(t *testing.T) {
	m := New(DefaultOptions())

	tests := []struct {
		name         string
		stats        model.TeamStats
		wantScored   float64
		wantConceded float64
		defaulted    bool
	}{
		{
			name: "season and form blended",
			stats: model.TeamStats{
				TeamID: "t1",
				Season: &model.TeamSample{GamesPlayed: 20, Scored: 40, Conceded: 20, Points: 40},
				Form:   &model.TeamSample{GamesPlayed: 5, Scored: 5, Conceded: 10, Points: 5},
			},
			wantScored:   0.4*2.0 + 0.6*1.0,
			wantConceded: 0.4*1.0 + 0.6*2.0,
		},
		{
			name: "season only",
			stats: model.TeamStats{
				TeamID: "t2",
				Season: &model.TeamSample{GamesPlayed: 10, Scored: 15, Conceded: 12},
			},
			wantScored:   1.5,
			wantConceded: 1.2,
		},
		{
			name: "form only",
			stats: model.TeamStats{
				TeamID: "t3",
				Form:   &model.TeamSample{GamesPlayed: 4, Scored: 6, Conceded: 2},
			},
			wantScored:   1.5,
			wantConceded: 0.5,
		},
		{
			name:         "no data falls back to defaults",
			stats:        model.TeamStats{TeamID: "t4"},
			wantScored:   1.35,
			wantConceded: 1.35,
			defaulted:    true,
		},
		{
			name: "empty samples ignored",
			stats: model.TeamStats{
				TeamID: "t5",
				Season: &model.TeamSample{},
				Form:   &model.TeamSample{},
			},
			wantScored:   1.35,
			wantConceded: 1.35,
			defaulted:    true,
		},
		{
			name: "clean sheets floored",
			stats: model.TeamStats{
				TeamID: "t6",
				Season: &model.TeamSample{GamesPlayed: 10, Scored: 0, Conceded: 0},
			},
			wantScored:   0.05,
			wantConceded: 0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Blend(tt.stats, 3)
			assert.InDelta(t, tt.wantScored, got.AvgScored, 1e-9)
			assert.InDelta(t, tt.wantConceded, got.AvgConceded, 1e-9)
			assert.Equal(t, tt.defaulted, got.Defaulted)
			assert.Equal(t, 3, got.Rank)
		})
	}
}

func TestBlend_FormPPG(t *testing.T) {
	m := New(DefaultOptions())
	got := m.Blend(model.TeamStats{
		Season: &model.TeamSample{GamesPlayed: 30, Scored: 45, Conceded: 30},
		Form:   &model.TeamSample{GamesPlayed: 6, Scored: 9, Conceded: 3, Points: 15},
	}, 0)

	assert.Equal(t, 30, got.GamesPlayed)
	assert.Equal(t, 6, got.FormGames)
	assert.InDelta(t, 2.5, got.FormPPG, 1e-9)
}

func TestLambdas_Base(t *testing.T) {
	m := New(DefaultOptions())
	home := model.TeamRate{AvgScored: 2.0, AvgConceded: 1.0}
	away := model.TeamRate{AvgScored: 1.2, AvgConceded: 1.6}

	got := m.Lambdas(home, away)
	assert.InDelta(t, 1.8, got.Home, 1e-9)
	assert.InDelta(t, 1.1, got.Away, 1e-9)
	assert.InDelta(t, 0.7, got.Advantage(), 1e-9)
}

func TestLambdas_RankModifier(t *testing.T) {
	m := New(DefaultOptions())
	base := model.TeamRate{AvgScored: 1.0, AvgConceded: 1.0}

	tests := []struct {
		name     string
		homeRank int
		awayRank int
		wantHome float64
		wantAway float64
	}{
		{"unknown ranks", 0, 18, 1.0, 1.0},
		{"small gap", 5, 10, 1.0, 1.0},
		{"minor gap favours home", 2, 12, 1.15, 1.0},
		{"major gap favours away", 19, 1, 1.0, 1.25},
		{"gap of exactly 15 is minor", 1, 16, 1.15, 1.0},
		{"gap of exactly 8 is ignored", 1, 9, 1.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home, away := base, base
			home.Rank = tt.homeRank
			away.Rank = tt.awayRank
			got := m.Lambdas(home, away)
			assert.InDelta(t, tt.wantHome, got.Home, 1e-9)
			assert.InDelta(t, tt.wantAway, got.Away, 1e-9)
		})
	}
}

func TestLambdas_FormModifierStacks(t *testing.T) {
	m := New(DefaultOptions())
	home := model.TeamRate{AvgScored: 1.0, AvgConceded: 1.0, Rank: 1, FormPPG: 2.6, FormGames: 5}
	away := model.TeamRate{AvgScored: 1.0, AvgConceded: 1.0, Rank: 20, FormPPG: 0.8, FormGames: 5}

	got := m.Lambdas(home, away)
	assert.InDelta(t, 1.25*1.10, got.Home, 1e-9)
	assert.InDelta(t, 1.0, got.Away, 1e-9)
}

func TestLambdas_AlwaysPositive(t *testing.T) {
	m := New(DefaultOptions())
	got := m.Lambdas(model.TeamRate{}, model.TeamRate{})
	require.Greater(t, got.Home, 0.0)
	require.Greater(t, got.Away, 0.0)
}

func TestLambdas_Deterministic(t *testing.T) {
	m := New(DefaultOptions())
	home := model.TeamRate{AvgScored: 1.7, AvgConceded: 0.9, Rank: 3, FormPPG: 2.2, FormGames: 6}
	away := model.TeamRate{AvgScored: 1.1, AvgConceded: 1.4, Rank: 14, FormPPG: 1.0, FormGames: 6}
	assert.Equal(t, m.Lambdas(home, away), m.Lambdas(home, away))
}
