package model

import "strings"

const (
	// MinBarcodeDigits is the shortest barcode worth looking up (EAN-8).
	MinBarcodeDigits = 8
	// MaxBarcodeDigits is the longest code accepted from bulk imports (GTIN-14).
	MaxBarcodeDigits = 14
)

// NormalizeBarcode strips everything but ASCII digits from raw scanner
// input. ok is false when fewer than MinBarcodeDigits remain; the digits
// are still returned so callers can log what was scanned.
func NormalizeBarcode(raw string) (digits string, ok bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits = b.String()
	return digits, len(digits) >= MinBarcodeDigits
}

// ParseBarcodes splits a pasted or uploaded list of codes on newlines,
// commas, tabs and spaces. Each token is reduced to its digits and kept only
// if it has between MinBarcodeDigits and MaxBarcodeDigits digits. Duplicates
// are dropped; first-seen order is preserved.
func ParseBarcodes(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '\n', '\r', ',', '\t', ' ', ';':
			return true
		}
		return false
	})

	seen := make(map[string]struct{}, len(fields))
	var codes []string
	for _, f := range fields {
		digits, ok := NormalizeBarcode(f)
		if !ok || len(digits) > MaxBarcodeDigits {
			continue
		}
		if _, dup := seen[digits]; dup {
			continue
		}
		seen[digits] = struct{}{}
		codes = append(codes, digits)
	}
	return codes
}
