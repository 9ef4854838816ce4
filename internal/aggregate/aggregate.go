// Package aggregate berechnet robuste Konsens-Statistiken über Buchmacherquoten.
package aggregate

import (
	"fmt"
	"math"
	"sort"
)

// MinPrice ist die kleinste gültige Dezimalquote (exklusiv)
const MinPrice = 1.0

// MaxPlausiblePrice begrenzt offensichtlich fehlerhafte Quoten
const MaxPlausiblePrice = 1000.0

// Summary fasst die Quoten mehrerer Buchmacher für eine Selektion zusammen
type Summary struct {
	Count  int     `json:"count"`
	Best   float64 `json:"best"`
	Worst  float64 `json:"worst"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`

	// Dispersion ist die Standardabweichung relativ zum Mittelwert (0 = Einigkeit)
	Dispersion float64 `json:"dispersion"`
}

// ValidatePrice prüft, ob eine Quote plausible Werte enthält
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("invalid price value: %f", price)
	}
	if price <= MinPrice {
		return fmt.Errorf("price must exceed %.1f: %f", MinPrice, price)
	}
	if price > MaxPlausiblePrice {
		return fmt.Errorf("unplausible price value: %f", price)
	}
	return nil
}

// ValidPrices gibt nur gültige Quoten zurück
func ValidPrices(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for _, p := range prices {
		if ValidatePrice(p) == nil {
			out = append(out, p)
		}
	}
	return out
}

// Mean berechnet den einfachen Durchschnitt
func Mean(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	return sum / float64(len(prices))
}

// Median berechnet den Median; robust gegen einzelne Ausreißer
func Median(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	values := append([]float64(nil), prices...)
	sort.Float64s(values)
	n := len(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}

// StdDev berechnet die Standardabweichung der Grundgesamtheit
func StdDev(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	mean := Mean(prices)
	var ss float64
	for _, p := range prices {
		d := p - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(prices)))
}

// FilterOutliers entfernt Ausreißer mit der IQR-Methode (Interquartile Range).
// Bei weniger als vier Werten wird nichts entfernt.
func FilterOutliers(prices []float64) []float64 {
	if len(prices) < 4 {
		return prices
	}

	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	n := len(sorted)

	// Q1 (25. Perzentil) und Q3 (75. Perzentil)
	q1 := sorted[n/4]
	q3 := sorted[n*3/4]

	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	filtered := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p >= lower && p <= upper {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// TrimmedMean entfernt einen Prozentsatz der höchsten und niedrigsten Werte
// vor der Mittelwertbildung. Fällt bei zu wenigen Werten auf Mean zurück.
func TrimmedMean(prices []float64, trimPercent float64) float64 {
	if len(prices) < 3 || trimPercent <= 0 || trimPercent >= 0.5 {
		return Mean(prices)
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	trim := int(float64(len(sorted)) * trimPercent)
	return Mean(sorted[trim : len(sorted)-trim])
}

// Consensus kombiniert Validierung, Ausreißererkennung und Statistik.
// Best und Worst beziehen sich auf alle gültigen Quoten, die übrigen Werte
// auf die Quoten ohne Ausreißer.
func Consensus(prices []float64) Summary {
	valid := ValidPrices(prices)
	if len(valid) == 0 {
		return Summary{}
	}

	s := Summary{Count: len(valid), Best: valid[0], Worst: valid[0]}
	for _, p := range valid {
		s.Best = math.Max(s.Best, p)
		s.Worst = math.Min(s.Worst, p)
	}

	core := FilterOutliers(valid)
	s.Mean = Mean(core)
	s.Median = Median(core)
	s.StdDev = StdDev(core)
	if s.Mean > 0 {
		s.Dispersion = s.StdDev / s.Mean
	}
	return s
}
