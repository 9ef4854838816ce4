package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/accafreeze-engine/internal/accumulator"
	"github.com/yourorg/accafreeze-engine/internal/evaluate"
	"github.com/yourorg/accafreeze-engine/internal/goalmodel"
	"github.com/yourorg/accafreeze-engine/internal/odds"
	"github.com/yourorg/accafreeze-engine/internal/validation"
)

// Engine holds the model and decision settings, loaded from the YAML file
// named by CONFIG_FILE on top of the defaults.
type Engine struct {
	GoalModel   goalmodel.Options      `yaml:"goal_model"`
	Evaluator   evaluate.Options       `yaml:"evaluator"`
	Gate        validation.GateOptions `yaml:"gate"`
	Accumulator accumulator.Options    `yaml:"accumulator"`
	Risk        RiskConfig             `yaml:"risk"`

	// Mapping replaces the built-in market mapping table when set
	Mapping *odds.MappingTable `yaml:"mapping"`
}

// RiskConfig configures the bookmaker risk assessor
type RiskConfig struct {
	Blocklist       []string `yaml:"blocklist"`
	MaxExposureOdds float64  `yaml:"max_exposure_odds"`
}

// DefaultEngine returns the built-in engine settings
func DefaultEngine() Engine {
	return Engine{
		GoalModel:   goalmodel.DefaultOptions(),
		Evaluator:   evaluate.DefaultOptions(),
		Gate:        validation.DefaultGateOptions(),
		Accumulator: accumulator.DefaultOptions(),
		Risk:        RiskConfig{MaxExposureOdds: 21},
	}
}

// MappingTable returns the configured mapping table or the built-in one
func (e Engine) MappingTable() odds.MappingTable {
	if e.Mapping != nil {
		return *e.Mapping
	}
	return odds.DefaultMappingTable()
}

// LoadEngine loads the engine settings. An empty path yields the defaults
// with environment overrides applied.
func LoadEngine(path string) (Engine, error) {
	e := DefaultEngine()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Engine{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &e); err != nil {
			return Engine{}, fmt.Errorf("failed to parse config file: %w", err)
		}
		logrus.WithField("path", path).Info("Loaded engine configuration")
	}

	e = applyEnvOverrides(e)
	if err := e.Validate(); err != nil {
		return Engine{}, err
	}
	return e, nil
}

// Validate checks the settings for values the engine cannot work with
func (e Engine) Validate() error {
	if w := e.GoalModel.SeasonWeight + e.GoalModel.FormWeight; w < 0.999 || w > 1.001 {
		return fmt.Errorf("goal_model: season_weight + form_weight must be 1, got %.3f", w)
	}
	if e.Gate.MinOdds <= 1 || e.Gate.MaxOdds <= e.Gate.MinOdds {
		return fmt.Errorf("gate: invalid odds bounds [%.2f, %.2f]", e.Gate.MinOdds, e.Gate.MaxOdds)
	}
	switch e.Accumulator.Search {
	case accumulator.SearchGreedy, accumulator.SearchExhaustive:
	default:
		return fmt.Errorf("accumulator: unknown search %q", e.Accumulator.Search)
	}
	switch e.Accumulator.Scope {
	case accumulator.ScopeFixture, accumulator.ScopeSlip:
	default:
		return fmt.Errorf("accumulator: unknown correlation scope %q", e.Accumulator.Scope)
	}
	if e.Mapping != nil {
		if err := e.Mapping.Validate(); err != nil {
			return fmt.Errorf("mapping: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides lets operators flip the most common switches without a file
func applyEnvOverrides(e Engine) Engine {
	if v, ok := GetEnv("ACCA_SEARCH"); ok {
		e.Accumulator.Search = accumulator.Search(strings.ToLower(v))
	}
	if v, ok := GetEnv("CORRELATION_SCOPE"); ok {
		e.Accumulator.Scope = accumulator.Scope(strings.ToLower(v))
	}
	e.Gate.AllowCorrectScore = GetEnvAsBool("ALLOW_CORRECT_SCORE", e.Gate.AllowCorrectScore)
	e.Gate.MinEdge = GetEnvAsFloat("MIN_EDGE", e.Gate.MinEdge)
	e.Gate.MinConfidence = GetEnvAsFloat("MIN_CONFIDENCE", e.Gate.MinConfidence)
	if v, ok := GetEnv("RISK_BLOCKLIST"); ok {
		e.Risk.Blocklist = GetEnvAsList("RISK_BLOCKLIST", nil)
		if strings.TrimSpace(v) == "" {
			e.Risk.Blocklist = nil
		}
	}
	return e
}
