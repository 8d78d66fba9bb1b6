package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/sizes"
)

// DefaultOpenFactsURL is the Open Food Facts API root.
const DefaultOpenFactsURL = "https://world.openfoodfacts.org"

type openFactsResponse struct {
	Status  int               `json:"status"`
	Product *openFactsProduct `json:"product"`
}

type openFactsProduct struct {
	ProductName string `json:"product_name"`
	GenericName string `json:"generic_name"`
	Brands      string `json:"brands"`
	Categories  string `json:"categories"`
	Quantity    string `json:"quantity"`
	ServingSize string `json:"serving_size"`
	ImageURL    string `json:"image_url"`
}

// OpenFacts looks barcodes up in Open Food Facts. The API is keyless but
// asks callers to identify themselves with a User-Agent.
type OpenFacts struct {
	g *getter
}

// NewOpenFacts creates an Open Food Facts adapter.
func NewOpenFacts(cfg Config, opts ...Option) *OpenFacts {
	return &OpenFacts{g: newGetter(model.SourceOpenFacts, cfg, DefaultOpenFactsURL, opts)}
}

// Name implements Adapter.
func (o *OpenFacts) Name() model.Source { return model.SourceOpenFacts }

// Lookup implements Adapter.
func (o *OpenFacts) Lookup(ctx context.Context, barcode string) (model.ProductRecord, error) {
	reqURL := strings.TrimRight(o.g.cfg.BaseURL, "/") + "/api/v0/product/" + url.PathEscape(barcode) + ".json"

	var resp openFactsResponse
	if err := o.g.getJSON(ctx, reqURL, nil, &resp); err != nil {
		return model.NotFound(barcode), err
	}
	if resp.Status != 1 || resp.Product == nil {
		return model.NotFound(barcode), nil
	}

	p := resp.Product
	name := strings.TrimSpace(p.ProductName)
	if name == "" {
		name = strings.TrimSpace(p.GenericName)
	}
	if name == "" {
		return model.NotFound(barcode), nil
	}

	size := strings.TrimSpace(p.Quantity)
	if size == "" {
		size = strings.TrimSpace(p.ServingSize)
	}
	if size == "" {
		size = sizes.FirstOf(p.ProductName, p.GenericName)
	}

	return model.ProductRecord{
		Barcode:     barcode,
		Found:       true,
		Name:        name,
		Brand:       firstSegment(p.Brands),
		Category:    lastSegment(p.Categories),
		Description: strings.TrimSpace(p.GenericName),
		ImageURL:    strings.TrimSpace(p.ImageURL),
		Size:        size,
		Source:      model.SourceOpenFacts,
	}, nil
}

func firstSegment(list string) string {
	first, _, _ := strings.Cut(list, ",")
	return strings.TrimSpace(first)
}

func lastSegment(list string) string {
	if i := strings.LastIndex(list, ","); i >= 0 {
		return strings.TrimSpace(list[i+1:])
	}
	return strings.TrimSpace(list)
}
