package odds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// Rule selects provider quotes for one internal market. Label and Threshold
// are only checked when set.
type Rule struct {
	ProviderMarketID string   `yaml:"provider_market_id" json:"provider_market_id"`
	Label            string   `yaml:"label,omitempty" json:"label,omitempty"`
	Threshold        *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// MappingTable is the versioned translation from internal market ids to
// provider identifiers.
type MappingTable struct {
	Version string                  `yaml:"version" json:"version"`
	Entries map[model.MarketID]Rule `yaml:"entries" json:"entries"`
}

// Provider market ids used by the default mapping table
const (
	ProviderMatchWinner  = "1"
	ProviderGoalsOU      = "5"
	ProviderBTTS         = "8"
	ProviderExactScore   = "10"
	ProviderDoubleChance = "12"
)

func threshold(v float64) *float64 { return &v }

// DefaultMappingTable returns the built-in mapping for the default provider
func DefaultMappingTable() MappingTable {
	entries := map[model.MarketID]Rule{
		model.HomeWin: {ProviderMarketID: ProviderMatchWinner, Label: "Home"},
		model.Draw:    {ProviderMarketID: ProviderMatchWinner, Label: "Draw"},
		model.AwayWin: {ProviderMarketID: ProviderMatchWinner, Label: "Away"},
		model.DC1X:    {ProviderMarketID: ProviderDoubleChance, Label: "Home/Draw"},
		model.DCX2:    {ProviderMarketID: ProviderDoubleChance, Label: "Draw/Away"},
		model.DC12:    {ProviderMarketID: ProviderDoubleChance, Label: "Home/Away"},
		model.Over15:  {ProviderMarketID: ProviderGoalsOU, Label: "Over", Threshold: threshold(1.5)},
		model.Under15: {ProviderMarketID: ProviderGoalsOU, Label: "Under", Threshold: threshold(1.5)},
		model.Over25:  {ProviderMarketID: ProviderGoalsOU, Label: "Over", Threshold: threshold(2.5)},
		model.Under25: {ProviderMarketID: ProviderGoalsOU, Label: "Under", Threshold: threshold(2.5)},
		model.Over35:  {ProviderMarketID: ProviderGoalsOU, Label: "Over", Threshold: threshold(3.5)},
		model.Under35: {ProviderMarketID: ProviderGoalsOU, Label: "Under", Threshold: threshold(3.5)},
		model.BTTSYes: {ProviderMarketID: ProviderBTTS, Label: "Yes"},
		model.BTTSNo:  {ProviderMarketID: ProviderBTTS, Label: "No"},
	}
	return MappingTable{Version: "default-1", Entries: entries}
}

// Rule returns the mapping rule for a market. Correct-score markets without
// an explicit entry map to the exact-score provider market labelled "h:a".
func (t MappingTable) Rule(id model.MarketID) (Rule, bool) {
	if r, ok := t.Entries[id]; ok {
		return r, true
	}
	if h, a, ok := id.ParseCorrectScore(); ok {
		if cs, ok := t.Entries[correctScoreTemplate]; ok {
			return Rule{ProviderMarketID: cs.ProviderMarketID, Label: fmt.Sprintf("%d:%d", h, a)}, true
		}
		return Rule{ProviderMarketID: ProviderExactScore, Label: fmt.Sprintf("%d:%d", h, a)}, true
	}
	return Rule{}, false
}

// correctScoreTemplate overrides the provider market used for every
// correct-score id when present in a loaded table
const correctScoreTemplate model.MarketID = "CORRECT_SCORE"

// Validate checks that every entry has a provider market id
func (t MappingTable) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("mapping table has no version")
	}
	for id, r := range t.Entries {
		if r.ProviderMarketID == "" {
			return fmt.Errorf("mapping for %s has no provider market id", id)
		}
	}
	return nil
}

// ParseMappingTable decodes a YAML mapping table
func ParseMappingTable(data []byte) (MappingTable, error) {
	var t MappingTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return MappingTable{}, fmt.Errorf("failed to parse mapping table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return MappingTable{}, err
	}
	return t, nil
}

// LoadMappingTable reads a YAML mapping table from disk
func LoadMappingTable(path string) (MappingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MappingTable{}, fmt.Errorf("failed to read mapping table: %w", err)
	}
	return ParseMappingTable(data)
}
