// Package odds matches internal market ids against raw bookmaker quotes.
package odds

import (
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/accafreeze-engine/internal/aggregate"
	"github.com/yourorg/accafreeze-engine/internal/model"
)

const thresholdEpsilon = 1e-9

// Price is the outcome of matching one market against a fixture's quotes
type Price struct {
	MarketID  model.MarketID `json:"market_id"`
	Best      float64        `json:"best"`
	Bookmaker string         `json:"bookmaker"`

	// ByBookmaker holds each bookmaker's best matching price
	ByBookmaker map[string]float64 `json:"by_bookmaker,omitempty"`

	// Consensus summarises the per-bookmaker prices
	Consensus aggregate.Summary `json:"consensus"`

	// Available is false when no quote matched (no liquidity)
	Available bool `json:"available"`
}

// Matcher finds the best price for a market using a mapping table
type Matcher struct {
	table MappingTable
}

// NewMatcher creates a matcher for the given table
func NewMatcher(table MappingTable) *Matcher {
	return &Matcher{table: table}
}

// Table returns the mapping table in use
func (m *Matcher) Table() MappingTable {
	return m.table
}

// Match returns the best available price for id. A market without a mapping
// or without matching quotes is reported as unavailable, not as an error.
func (m *Matcher) Match(quotes []model.OddsQuote, id model.MarketID) Price {
	out := Price{MarketID: id}

	rule, ok := m.table.Rule(id)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"market":  id,
			"version": m.table.Version,
		}).Debug("No mapping rule for market")
		return out
	}

	byBookmaker := make(map[string]float64)
	for _, q := range quotes {
		if !rule.matches(q) || q.Price <= aggregate.MinPrice {
			continue
		}
		if q.Price > byBookmaker[q.Bookmaker] {
			byBookmaker[q.Bookmaker] = q.Price
		}
	}
	if len(byBookmaker) == 0 {
		return out
	}

	names := make([]string, 0, len(byBookmaker))
	for name := range byBookmaker {
		names = append(names, name)
	}
	sort.Strings(names)

	prices := make([]float64, 0, len(names))
	for _, name := range names {
		p := byBookmaker[name]
		prices = append(prices, p)
		// Strictly greater keeps the alphabetically first bookmaker on ties
		if p > out.Best {
			out.Best = p
			out.Bookmaker = name
		}
	}

	out.ByBookmaker = byBookmaker
	out.Consensus = aggregate.Consensus(prices)
	out.Available = true
	return out
}

// MatchAll matches every id and returns the prices keyed by market id
func (m *Matcher) MatchAll(quotes []model.OddsQuote, ids []model.MarketID) map[model.MarketID]Price {
	out := make(map[model.MarketID]Price, len(ids))
	for _, id := range ids {
		out[id] = m.Match(quotes, id)
	}
	return out
}

func (r Rule) matches(q model.OddsQuote) bool {
	if q.MarketID != r.ProviderMarketID {
		return false
	}
	if r.Label != "" && !strings.EqualFold(strings.TrimSpace(q.Label), r.Label) {
		return false
	}
	if r.Threshold != nil {
		if q.Threshold == nil || math.Abs(*q.Threshold-*r.Threshold) > thresholdEpsilon {
			return false
		}
	}
	return true
}
