package model

import (
	"fmt"
	"strings"
)

// MarketID is the internal, provider-independent identifier of a market.
type MarketID string

// MarketKind groups market ids by the shape of their outcome.
type MarketKind string

// Market kinds
const (
	KindResult       MarketKind = "result"
	KindTotals       MarketKind = "totals"
	KindBTTS         MarketKind = "btts"
	KindCorrectScore MarketKind = "correct_score"
	KindUnknown      MarketKind = "unknown"
)

// Known market ids. Correct-score ids are built with CorrectScoreID.
const (
	HomeWin MarketID = "HOME_WIN"
	Draw    MarketID = "DRAW"
	AwayWin MarketID = "AWAY_WIN"
	DC1X    MarketID = "DC_1X"
	DCX2    MarketID = "DC_X2"
	DC12    MarketID = "DC_12"
	Over15  MarketID = "OVER_1_5"
	Under15 MarketID = "UNDER_1_5"
	Over25  MarketID = "OVER_2_5"
	Under25 MarketID = "UNDER_2_5"
	Over35  MarketID = "OVER_3_5"
	Under35 MarketID = "UNDER_3_5"
	BTTSYes MarketID = "BTTS_YES"
	BTTSNo  MarketID = "BTTS_NO"
)

const correctScorePrefix = "CS_"

var marketLabels = map[MarketID]string{
	HomeWin: "Home Win",
	Draw:    "Draw",
	AwayWin: "Away Win",
	DC1X:    "Home or Draw",
	DCX2:    "Draw or Away",
	DC12:    "Home or Away",
	Over15:  "Over 1.5 Goals",
	Under15: "Under 1.5 Goals",
	Over25:  "Over 2.5 Goals",
	Under25: "Under 2.5 Goals",
	Over35:  "Over 3.5 Goals",
	Under35: "Under 3.5 Goals",
	BTTSYes: "Both Teams To Score",
	BTTSNo:  "Both Teams Not To Score",
}

// CorrectScoreID returns the market id of an exact scoreline.
func CorrectScoreID(home, away int) MarketID {
	return MarketID(fmt.Sprintf("%s%d_%d", correctScorePrefix, home, away))
}

// ParseCorrectScore extracts the scoreline from a correct-score id. Only
// the canonical form written by CorrectScoreID is accepted.
func (id MarketID) ParseCorrectScore() (home, away int, ok bool) {
	s := string(id)
	if !strings.HasPrefix(s, correctScorePrefix) {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(s[len(correctScorePrefix):], "%d_%d", &home, &away); err != nil {
		return 0, 0, false
	}
	if home < 0 || away < 0 || CorrectScoreID(home, away) != id {
		return 0, 0, false
	}
	return home, away, true
}

// Kind classifies the market id.
func (id MarketID) Kind() MarketKind {
	switch id {
	case HomeWin, Draw, AwayWin, DC1X, DCX2, DC12:
		return KindResult
	case Over15, Under15, Over25, Under25, Over35, Under35:
		return KindTotals
	case BTTSYes, BTTSNo:
		return KindBTTS
	}
	if _, _, ok := id.ParseCorrectScore(); ok {
		return KindCorrectScore
	}
	return KindUnknown
}

// Label returns a human readable name for the market.
func (id MarketID) Label() string {
	if l, ok := marketLabels[id]; ok {
		return l
	}
	if h, a, ok := id.ParseCorrectScore(); ok {
		return fmt.Sprintf("Correct Score %d-%d", h, a)
	}
	return string(id)
}

// StandardMarkets lists every non correct-score market id in a fixed order.
func StandardMarkets() []MarketID {
	return []MarketID{
		HomeWin, Draw, AwayWin, DC1X, DCX2, DC12,
		Over15, Under15, Over25, Under25, Over35, Under35,
		BTTSYes, BTTSNo,
	}
}
