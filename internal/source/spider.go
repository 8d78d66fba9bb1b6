package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/sizes"
)

// DefaultSpiderURL is the Barcode Spider API root.
const DefaultSpiderURL = "https://api.barcodespider.com"

type spiderResponse struct {
	ItemResponse *struct {
		Code    int          `json:"code"`
		Status  string       `json:"status"`
		Message string       `json:"message"`
		Items   []spiderItem `json:"items"`
	} `json:"item_response"`
}

type spiderItem struct {
	Title                string   `json:"title"`
	Brand                string   `json:"brand"`
	Category             string   `json:"category"`
	Description          string   `json:"description"`
	Images               []string `json:"images"`
	LowestRecordedPrice  price    `json:"lowest_recorded_price"`
	HighestRecordedPrice price    `json:"highest_recorded_price"`
}

// Spider looks barcodes up in the Barcode Spider catalog.
type Spider struct {
	g *getter
}

// NewSpider creates a Barcode Spider adapter. The API key, when set, is
// sent in the token header.
func NewSpider(cfg Config, opts ...Option) *Spider {
	return &Spider{g: newGetter(model.SourceSpider, cfg, DefaultSpiderURL, opts)}
}

// Name implements Adapter.
func (s *Spider) Name() model.Source { return model.SourceSpider }

// Lookup implements Adapter.
func (s *Spider) Lookup(ctx context.Context, barcode string) (model.ProductRecord, error) {
	reqURL := strings.TrimRight(s.g.cfg.BaseURL, "/") + "/v1/lookup?upc=" + url.QueryEscape(barcode)

	var header http.Header
	if s.g.cfg.APIKey != "" {
		header = http.Header{"token": []string{s.g.cfg.APIKey}}
	}

	var resp spiderResponse
	if err := s.g.getJSON(ctx, reqURL, header, &resp); err != nil {
		return model.NotFound(barcode), err
	}

	if resp.ItemResponse == nil || len(resp.ItemResponse.Items) == 0 {
		return model.NotFound(barcode), nil
	}
	item := resp.ItemResponse.Items[0]
	if strings.TrimSpace(item.Title) == "" {
		return model.NotFound(barcode), nil
	}

	rec := model.ProductRecord{
		Barcode:     barcode,
		Found:       true,
		Name:        strings.TrimSpace(item.Title),
		Brand:       strings.TrimSpace(item.Brand),
		Category:    strings.TrimSpace(item.Category),
		Description: strings.TrimSpace(item.Description),
		Size:        sizes.FirstOf(item.Title, item.Description),
		Source:      model.SourceSpider,
	}
	if len(item.Images) > 0 {
		rec.ImageURL = item.Images[0]
	}
	switch {
	case item.LowestRecordedPrice.positive():
		rec.SuggestedPrice = item.LowestRecordedPrice.ptr()
	case item.HighestRecordedPrice.positive():
		rec.SuggestedPrice = item.HighestRecordedPrice.ptr()
	}
	return rec, nil
}

