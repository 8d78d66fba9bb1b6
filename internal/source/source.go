// Package source adapts product catalogs to a single lookup interface.
//
// An adapter answers one barcode at a time. A clean miss is a NotFound
// record with a nil error; transport failures, non-2xx responses, malformed
// payloads, timeouts and open circuits are *Error values. The resolver
// treats both the same way and moves on to the next source.
package source

import (
	"context"
	"fmt"

	"github.com/sells-group/sku-lookup/internal/model"
)

// Adapter looks a normalized barcode up in one catalog.
type Adapter interface {
	Name() model.Source
	Lookup(ctx context.Context, barcode string) (model.ProductRecord, error)
}

// Error is a failed lookup against a single source.
type Error struct {
	Source     model.Source
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(src model.Source, status int, err error) *Error {
	return &Error{Source: src, StatusCode: status, Err: err}
}
