package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/sizes"
)

// DefaultGenericDBURL is the UPCitemdb API root.
const DefaultGenericDBURL = "https://api.upcitemdb.com"

type genericDBResponse struct {
	Code  string          `json:"code"`
	Total int             `json:"total"`
	Items []genericDBItem `json:"items"`
}

type genericDBItem struct {
	Title               string   `json:"title"`
	Brand               string   `json:"brand"`
	Category            string   `json:"category"`
	Description         string   `json:"description"`
	Size                string   `json:"size"`
	Images              []string `json:"images"`
	LowestRecordedPrice price    `json:"lowest_recorded_price"`
}

// GenericDB looks barcodes up in UPCitemdb, which covers non-food items.
type GenericDB struct {
	g *getter
}

// NewGenericDB creates a UPCitemdb adapter. Without an API key it uses the
// trial endpoint; with one it calls the paid endpoint with the user_key
// header.
func NewGenericDB(cfg Config, opts ...Option) *GenericDB {
	return &GenericDB{g: newGetter(model.SourceGenericDB, cfg, DefaultGenericDBURL, opts)}
}

// Name implements Adapter.
func (d *GenericDB) Name() model.Source { return model.SourceGenericDB }

// Lookup implements Adapter.
func (d *GenericDB) Lookup(ctx context.Context, barcode string) (model.ProductRecord, error) {
	path := "/prod/trial/lookup"
	var header http.Header
	if d.g.cfg.APIKey != "" {
		path = "/prod/v1/lookup"
		header = http.Header{
			"user_key": []string{d.g.cfg.APIKey},
			"key_type": []string{"3scale"},
		}
	}
	reqURL := strings.TrimRight(d.g.cfg.BaseURL, "/") + path + "?upc=" + url.QueryEscape(barcode)

	var resp genericDBResponse
	if err := d.g.getJSON(ctx, reqURL, header, &resp); err != nil {
		return model.NotFound(barcode), err
	}
	if len(resp.Items) == 0 || strings.TrimSpace(resp.Items[0].Title) == "" {
		return model.NotFound(barcode), nil
	}

	item := resp.Items[0]
	size := strings.TrimSpace(item.Size)
	if size == "" {
		size = sizes.FirstOf(item.Title, item.Description)
	}

	rec := model.ProductRecord{
		Barcode:     barcode,
		Found:       true,
		Name:        strings.TrimSpace(item.Title),
		Brand:       strings.TrimSpace(item.Brand),
		Category:    strings.TrimSpace(item.Category),
		Description: strings.TrimSpace(item.Description),
		Size:        size,
		Source:      model.SourceGenericDB,
	}
	if len(item.Images) > 0 {
		rec.ImageURL = item.Images[0]
	}
	if item.LowestRecordedPrice.positive() {
		rec.SuggestedPrice = item.LowestRecordedPrice.ptr()
	}
	return rec, nil
}
