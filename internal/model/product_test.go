package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBarcode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		digits string
		ok     bool
	}{
		{"plain upc", "012345678905", "012345678905", true},
		{"scanner noise", " 0123-4567 8905\n", "012345678905", true},
		{"ean8", "96385074", "96385074", true},
		{"too short", "1234567", "1234567", false},
		{"short after strip", "ABC-123-XYZ", "123", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			digits, ok := NormalizeBarcode(tt.raw)
			assert.Equal(t, tt.digits, digits)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseBarcodes(t *testing.T) {
	t.Parallel()

	text := "049000042566\n012345678901, 049000042566\t1234\n 0-12345-67890-5 ;123456789012345"
	got := ParseBarcodes(text)
	assert.Equal(t, []string{"049000042566", "012345678901", "012345678905"}, got)
}

func TestParseBarcodes_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, ParseBarcodes("  \n,,  "))
}

func TestSource_External(t *testing.T) {
	t.Parallel()

	assert.True(t, SourceSpider.External())
	assert.True(t, SourceOpenFacts.External())
	assert.True(t, SourceGenericDB.External())
	assert.False(t, SourceSharedCache.External())
	assert.False(t, SourceMerchant.External())
	assert.False(t, Source("").External())
}

func TestNotFound_OnlyBarcode(t *testing.T) {
	t.Parallel()

	rec := NotFound("012345678905")
	assert.Equal(t, ProductRecord{Barcode: "012345678905"}, rec)
	assert.False(t, rec.Found)
}

func TestSharedEntry_Record(t *testing.T) {
	t.Parallel()

	price := 2.49
	e := SharedEntry{
		Barcode:        "049000028911",
		Name:           "Coca-Cola 20oz",
		Brand:          "Coca-Cola",
		Category:       "Soda",
		Size:           "20oz",
		AvgPrice:       &price,
		OriginalSource: SourceSpider,
	}
	rec := e.Record()
	assert.True(t, rec.Found)
	assert.Equal(t, SourceSharedCache, rec.Source)
	assert.Equal(t, "Coca-Cola 20oz", rec.Name)
	assert.Equal(t, &price, rec.SuggestedPrice)
}

func TestSharedEntry_Apply_BackfillOnly(t *testing.T) {
	t.Parallel()

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)
	e := SharedEntry{
		Barcode:          "012000000017",
		Name:             "Budweiser 6-Pack",
		Brand:            "Budweiser",
		Category:         "",
		Size:             "",
		ContributorCount: 1,
		LastVerifiedAt:   first,
	}

	e.Apply(Backfill{Brand: "AB InBev", Category: "Beer", Size: "6x12oz"}, later)

	assert.Equal(t, "Budweiser", e.Brand, "populated brand must not be overwritten")
	assert.Equal(t, "Beer", e.Category)
	assert.Equal(t, "6x12oz", e.Size)
	assert.Equal(t, "", e.ImageURL)
	assert.Equal(t, 2, e.ContributorCount)
	assert.Equal(t, later, e.LastVerifiedAt)
	assert.Equal(t, "Budweiser 6-Pack", e.Name)
}

func TestSharedEntry_Apply_WhitespaceCountsAsEmpty(t *testing.T) {
	t.Parallel()

	e := SharedEntry{Brand: "  ", ContributorCount: 3}
	e.Apply(Backfill{Brand: "Modelo"}, time.Now())
	assert.Equal(t, "Modelo", e.Brand)
	assert.Equal(t, 4, e.ContributorCount)
}

func TestBackfillFrom(t *testing.T) {
	t.Parallel()

	b := BackfillFrom(ProductRecord{
		Name:     "ignored",
		Brand:    " Corona ",
		Category: "Beer",
		Size:     "12 oz",
		ImageURL: "https://img/1.png",
	})
	assert.Equal(t, Backfill{Brand: "Corona", Category: "Beer", Size: "12 oz", ImageURL: "https://img/1.png"}, b)
}
