// Package pricing suggests shelf prices from unit cost and category.
package pricing

import (
	"math"
	"strings"
)

// Margin is a target gross margin for categories containing Key.
type Margin struct {
	Key    string  `yaml:"key" mapstructure:"key"`
	Target float64 `yaml:"target" mapstructure:"target"`
}

// DefaultMargin applies when no category key matches.
const DefaultMargin = 0.30

// DefaultMargins is checked in order; the first key contained in the
// lower-cased category wins.
var DefaultMargins = []Margin{
	{Key: "beverages", Target: 0.35},
	{Key: "snacks", Target: 0.40},
	{Key: "candy", Target: 0.45},
	{Key: "tobacco", Target: 0.15},
	{Key: "alcohol", Target: 0.25},
	{Key: "grocery", Target: 0.30},
	{Key: "dairy", Target: 0.25},
	{Key: "frozen", Target: 0.30},
	{Key: "household", Target: 0.35},
}

// Suggester computes suggested retail prices from a margin table.
type Suggester struct {
	margins  []Margin
	fallback float64
}

// NewSuggester creates a Suggester. A nil or empty table uses DefaultMargins;
// a fallback outside (0,1) uses DefaultMargin.
func NewSuggester(margins []Margin, fallback float64) *Suggester {
	if len(margins) == 0 {
		margins = DefaultMargins
	}
	if fallback <= 0 || fallback >= 1 {
		fallback = DefaultMargin
	}
	return &Suggester{margins: margins, fallback: fallback}
}

// MarginFor returns the target margin for a category.
func (s *Suggester) MarginFor(category string) float64 {
	lc := strings.ToLower(category)
	if lc == "" {
		return s.fallback
	}
	for _, m := range s.margins {
		if m.Key != "" && strings.Contains(lc, strings.ToLower(m.Key)) {
			return m.Target
		}
	}
	return s.fallback
}

// dimeEpsilon absorbs float error so an exact dime is not bumped up.
const dimeEpsilon = 1e-9

// Suggest returns cost/(1-margin) rounded up to the next dime, minus a cent,
// so prices end in .X9. Any positive cost yields at least 0.09.
// Non-positive cost yields 0.
func (s *Suggester) Suggest(cost float64, category string) float64 {
	if cost <= 0 {
		return 0
	}
	margin := s.MarginFor(category)
	raw := cost / (1 - margin)
	dimes := math.Max(1, math.Ceil(raw*10-dimeEpsilon))
	return math.Round(dimes*10-1) / 100
}

// SuggestRetailPrice prices with the default margin table.
func SuggestRetailPrice(cost float64, category string) float64 {
	return defaultSuggester.Suggest(cost, category)
}

var defaultSuggester = NewSuggester(nil, DefaultMargin)
