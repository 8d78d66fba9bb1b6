package importer

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/model"
)

// CatalogColumns are the seed catalog columns. Only barcode and name are
// required; order is taken from the header row.
var CatalogColumns = []string{"barcode", "name", "brand", "category", "size", "price"}

// ReadCatalog parses a seed catalog CSV into shared cache entries tagged as
// merchant-sourced. Rows with an invalid barcode or no name are skipped and
// counted.
func ReadCatalog(ctx context.Context, r io.Reader) ([]model.SharedEntry, int, error) {
	rows, err := ReadCSV(ctx, r)
	if err != nil {
		return nil, 0, eris.Wrap(err, "importer: read catalog")
	}
	if len(rows) == 0 {
		return nil, 0, eris.New("importer: catalog is empty")
	}

	idx, err := catalogIndex(rows[0])
	if err != nil {
		return nil, 0, err
	}

	var (
		entries []model.SharedEntry
		skipped int
	)
	for _, row := range rows[1:] {
		if len(row) == 0 || strings.HasPrefix(row[0], "#") {
			continue
		}
		e, ok := catalogEntry(row, idx)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, e)
	}

	if skipped > 0 {
		zap.L().Warn("importer: skipped catalog rows", zap.Int("skipped", skipped))
	}
	return entries, skipped, nil
}

func catalogIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(CatalogColumns))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{"barcode", "name"} {
		if _, ok := idx[req]; !ok {
			return nil, eris.Errorf("importer: catalog header missing %q column", req)
		}
	}
	return idx, nil
}

func catalogEntry(row []string, idx map[string]int) (model.SharedEntry, bool) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	barcode, ok := model.NormalizeBarcode(get("barcode"))
	if !ok || len(barcode) > model.MaxBarcodeDigits || get("name") == "" {
		return model.SharedEntry{}, false
	}

	e := model.SharedEntry{
		Barcode:        barcode,
		Name:           get("name"),
		Brand:          get("brand"),
		Category:       get("category"),
		Size:           get("size"),
		OriginalSource: model.SourceMerchant,
	}
	if p := strings.TrimPrefix(get("price"), "$"); p != "" {
		if v, err := strconv.ParseFloat(p, 64); err == nil && v > 0 {
			e.AvgPrice = &v
		}
	}
	return e, true
}
