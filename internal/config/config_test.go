package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/accafreeze-engine/internal/accumulator"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty")
	t.Setenv("TEST_FLOAT", "1.5")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_LIST", " a, b,,c ")
	t.Setenv("TEST_EMPTY_LIST", "  ")

	assert.Equal(t, 42, GetEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("TEST_BAD_INT", 1))
	assert.Equal(t, 7, GetEnvAsInt("TEST_UNSET_INT", 7))
	assert.Equal(t, 1.5, GetEnvAsFloat("TEST_FLOAT", 0))
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("TEST_DURATION", time.Second))
	assert.True(t, GetEnvAsBool("TEST_BOOL", false))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvAsList("TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, GetEnvAsList("TEST_EMPTY_LIST", []string{"x"}))
	assert.Equal(t, "fallback", GetEnvOrDefault("TEST_UNSET_STRING", "fallback"))
}

func TestLoad(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("WORKERS", "3")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg := Load()
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "sha256", cfg.ChecksumAlgorithm)
	assert.Equal(t, "06:00", cfg.RunAt)
}

func TestLoadEngine_Defaults(t *testing.T) {
	e, err := LoadEngine("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEngine().Gate, e.Gate)
	assert.Equal(t, accumulator.SearchGreedy, e.Accumulator.Search)
	assert.NotEmpty(t, e.MappingTable().Entries)
}

func TestLoadEngine_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	data := []byte(`
goal_model:
  season_weight: 0.5
  form_weight: 0.5
gate:
  min_edge: 0.05
accumulator:
  search: exhaustive
  correlation_scope: slip
risk:
  blocklist: [shadybet]
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	e, err := LoadEngine(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, e.GoalModel.SeasonWeight)
	assert.Equal(t, 0.05, e.Gate.MinEdge)
	assert.Equal(t, accumulator.SearchExhaustive, e.Accumulator.Search)
	assert.Equal(t, accumulator.ScopeSlip, e.Accumulator.Scope)
	assert.Equal(t, []string{"shadybet"}, e.Risk.Blocklist)

	// Fields absent from the file keep their defaults
	assert.Equal(t, DefaultEngine().Gate.MaxOdds, e.Gate.MaxOdds)
	assert.Equal(t, DefaultEngine().Accumulator.SafeLegs, e.Accumulator.SafeLegs)
}

func TestLoadEngine_EnvOverrides(t *testing.T) {
	t.Setenv("ACCA_SEARCH", "EXHAUSTIVE")
	t.Setenv("ALLOW_CORRECT_SCORE", "false")
	t.Setenv("RISK_BLOCKLIST", "a,b")

	e, err := LoadEngine("")
	require.NoError(t, err)
	assert.Equal(t, accumulator.SearchExhaustive, e.Accumulator.Search)
	assert.False(t, e.Gate.AllowCorrectScore)
	assert.Equal(t, []string{"a", "b"}, e.Risk.Blocklist)
}

func TestLoadEngine_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
		want string
	}{
		{"weights", "goal_model:\n  season_weight: 0.9\n  form_weight: 0.9\n", "season_weight"},
		{"odds bounds", "gate:\n  min_odds: 3\n  max_odds: 2\n", "odds bounds"},
		{"search", "accumulator:\n  search: random\n", "unknown search"},
		{"scope", "accumulator:\n  correlation_scope: league\n", "correlation scope"},
		{"yaml", "gate: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadEngine(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadEngine(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
