// Package sizes pulls package size tokens ("12 oz", "2 Liter", "6 Pack")
// out of free-text product titles and descriptions.
package sizes

import (
	"regexp"
	"strings"
)

// patterns is checked in order and the first match wins. Container
// volume and weight come before pack and count, so "Coke 12 oz 6 Pack"
// yields "12 oz".
var patterns = []*regexp.Regexp{
	// Fluid ounces: "12 oz", "16.9 fl oz", "20oz"
	regexp.MustCompile(`(?i)\d+\.?\d*\s*(?:fl\.?\s*)?oz\.?`),
	// Liters: "2 Liter", "1.5L", "1 litre"
	regexp.MustCompile(`(?i)\d+\.?\d*\s*(?:liter|litre|lt|l)\b`),
	// Milliliters: "500ml"
	regexp.MustCompile(`(?i)\d+\.?\d*\s*ml\b`),
	// Gallons: "1 gallon", "1/2 gal"
	regexp.MustCompile(`(?i)(?:\d+/\d+|\d+\.?\d*)\s*gal(?:lon)?s?\b`),
	// Packs: "6 Pack", "12-pack", "24 pk"
	regexp.MustCompile(`(?i)\d+\s*[-\s]?(?:pack|pk)\b`),
	// Count: "100 count", "50 ct"
	regexp.MustCompile(`(?i)\d+\s*(?:count|ct)\b`),
	// Pounds: "1 lb", "2 lbs"
	regexp.MustCompile(`(?i)\d+\.?\d*\s*lb\.?s?\b`),
	// Grams: "100g", "250 grams"
	regexp.MustCompile(`(?i)\d+\.?\d*\s*(?:g|grams?)\b`),
}

var spaceRun = regexp.MustCompile(`\s+`)

// Extract returns the first size token found in text, trimmed and with
// internal whitespace collapsed to single spaces. Casing is kept as written.
func Extract(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	for _, p := range patterns {
		if m := p.FindString(text); m != "" {
			return spaceRun.ReplaceAllString(strings.TrimSpace(m), " "), true
		}
	}
	return "", false
}

// FirstOf tries each text in turn and returns the first extracted size.
func FirstOf(texts ...string) string {
	for _, t := range texts {
		if s, ok := Extract(t); ok {
			return s
		}
	}
	return ""
}
