package model

import (
	"strings"
	"time"
)

// Source identifies where a resolved product came from.
type Source string

const (
	// SourceSharedCache is the crowdsourced product table shared by all merchants.
	SourceSharedCache Source = "shared_cache"
	// SourceSpider is the Barcode Spider catalog.
	SourceSpider Source = "barcode_spider"
	// SourceOpenFacts is the Open Food Facts database.
	SourceOpenFacts Source = "open_food_facts"
	// SourceGenericDB is the UPCitemdb general product database.
	SourceGenericDB Source = "upc_itemdb"
	// SourceMerchant marks a product entered by hand at a store. It only
	// appears as a shared entry's original source.
	SourceMerchant Source = "merchant"
)

// External reports whether the source is an outside catalog rather than
// the shared cache or a merchant.
func (s Source) External() bool {
	switch s {
	case SourceSpider, SourceOpenFacts, SourceGenericDB:
		return true
	default:
		return false
	}
}

// ProductRecord is the canonical result of resolving a barcode.
// When Found is false every descriptive field is empty; Barcode is always set.
type ProductRecord struct {
	Barcode        string   `json:"barcode"`
	Found          bool     `json:"found"`
	Name           string   `json:"name,omitempty"`
	Brand          string   `json:"brand,omitempty"`
	Category       string   `json:"category,omitempty"`
	Description    string   `json:"description,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	SuggestedPrice *float64 `json:"suggested_price,omitempty"`
	Size           string   `json:"size,omitempty"`
	Source         Source   `json:"source,omitempty"`
}

// NotFound returns the miss record for a barcode.
func NotFound(barcode string) ProductRecord {
	return ProductRecord{Barcode: barcode}
}

// Attribution identifies who contributed a product to the shared cache.
type Attribution struct {
	UserID      string `json:"user_id,omitempty"`
	FranchiseID string `json:"franchise_id,omitempty"`
}

// SharedEntry is a row of the crowdsourced product cache.
type SharedEntry struct {
	ID                     string    `json:"id"`
	Barcode                string    `json:"barcode"`
	Name                   string    `json:"name"`
	Brand                  string    `json:"brand,omitempty"`
	Category               string    `json:"category,omitempty"`
	Description            string    `json:"description,omitempty"`
	Size                   string    `json:"size,omitempty"`
	ImageURL               string    `json:"image_url,omitempty"`
	AvgPrice               *float64  `json:"avg_price,omitempty"`
	ContributorCount       int       `json:"contributor_count"`
	OriginalSource         Source    `json:"original_source"`
	ContributedByUser      string    `json:"contributed_by_user,omitempty"`
	ContributedByFranchise string    `json:"contributed_by_franchise,omitempty"`
	LastVerifiedAt         time.Time `json:"last_verified_at"`
	CreatedAt              time.Time `json:"created_at"`
}

// Record converts a cache entry into a found ProductRecord tagged as a
// shared cache hit.
func (e SharedEntry) Record() ProductRecord {
	return ProductRecord{
		Barcode:        e.Barcode,
		Found:          true,
		Name:           e.Name,
		Brand:          e.Brand,
		Category:       e.Category,
		Description:    e.Description,
		ImageURL:       e.ImageURL,
		SuggestedPrice: e.AvgPrice,
		Size:           e.Size,
		Source:         SourceSharedCache,
	}
}

// Backfill holds the fields a later contribution may fill in on an
// existing entry. Name, description and price are first-write-wins and are
// deliberately absent.
type Backfill struct {
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category,omitempty"`
	Size     string `json:"size,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// BackfillFrom extracts the backfillable fields of a record.
func BackfillFrom(rec ProductRecord) Backfill {
	return Backfill{
		Brand:    strings.TrimSpace(rec.Brand),
		Category: strings.TrimSpace(rec.Category),
		Size:     strings.TrimSpace(rec.Size),
		ImageURL: strings.TrimSpace(rec.ImageURL),
	}
}

// Apply merges a later contribution into the entry: the contributor count
// goes up by one, LastVerifiedAt moves to at, and each backfillable field is
// set only if it is currently empty.
func (e *SharedEntry) Apply(b Backfill, at time.Time) {
	e.ContributorCount++
	e.LastVerifiedAt = at
	e.Brand = fillEmpty(e.Brand, b.Brand)
	e.Category = fillEmpty(e.Category, b.Category)
	e.Size = fillEmpty(e.Size, b.Size)
	e.ImageURL = fillEmpty(e.ImageURL, b.ImageURL)
}

func fillEmpty(existing, incoming string) string {
	if strings.TrimSpace(existing) != "" {
		return existing
	}
	return incoming
}
