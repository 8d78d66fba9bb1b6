package importer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sku-lookup/internal/model"
)

// codeHeaders are column names that hold barcodes, lower-cased.
var codeHeaders = []string{"barcode", "upc", "ean", "gtin", "sku", "code"}

// ReadCodes loads a barcode list from a .txt, .csv or .xlsx file. Codes are
// normalized and de-duplicated in file order; tokens that are not 8 to 14
// digits are dropped.
func ReadCodes(ctx context.Context, path string) ([]string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		rows, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, err
		}
		return codesFromRows(rows), nil
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		if ext == ".csv" {
			return ReadCodesCSV(ctx, f)
		}
		return ReadCodesText(f)
	default:
		return nil, eris.Errorf("importer: unsupported file type %q", ext)
	}
}

// ReadCodesText parses free text: one or more codes per line, separated by
// commas, semicolons, tabs or spaces.
func ReadCodesText(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "importer: read text")
	}
	return model.ParseBarcodes(string(data)), nil
}

// ReadCodesCSV parses a CSV code list.
func ReadCodesCSV(ctx context.Context, r io.Reader) ([]string, error) {
	rows, err := ReadCSV(ctx, r)
	if err != nil {
		return nil, eris.Wrap(err, "importer: read csv")
	}
	return codesFromRows(rows), nil
}

// codesFromRows takes the barcode column when the first row names one, and
// every cell otherwise.
func codesFromRows(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}

	col := codeColumn(rows[0])
	var b strings.Builder
	for i, row := range rows {
		if col >= 0 {
			if i == 0 || col >= len(row) {
				continue
			}
			b.WriteString(row[col])
			b.WriteByte('\n')
			continue
		}
		for _, cell := range row {
			b.WriteString(cell)
			b.WriteByte('\n')
		}
	}
	return model.ParseBarcodes(b.String())
}

func codeColumn(header []string) int {
	for _, name := range codeHeaders {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
	}
	return -1
}
