package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sku-lookup/internal/model"
)

// EntryGetter reads shared cache entries. A nil entry with a nil error is a
// miss.
type EntryGetter interface {
	GetProduct(ctx context.Context, barcode string) (*model.SharedEntry, error)
}

// SharedCache answers lookups from the crowdsourced product table.
type SharedCache struct {
	store EntryGetter
}

// NewSharedCache creates a SharedCache adapter over a store.
func NewSharedCache(store EntryGetter) *SharedCache {
	return &SharedCache{store: store}
}

// Name implements Adapter.
func (s *SharedCache) Name() model.Source { return model.SourceSharedCache }

// Lookup implements Adapter.
func (s *SharedCache) Lookup(ctx context.Context, barcode string) (model.ProductRecord, error) {
	entry, err := s.store.GetProduct(ctx, barcode)
	if err != nil {
		return model.NotFound(barcode), newError(model.SourceSharedCache, 0, eris.Wrap(err, "get product"))
	}
	if entry == nil || entry.Name == "" {
		return model.NotFound(barcode), nil
	}
	return entry.Record(), nil
}
