package resolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sku-lookup/internal/model"
)

// ResolveBatch resolves codes with bounded parallelism and returns one
// record per input, in input order. Only the first MaxBatchLookups codes are
// looked up; the rest come back as not found with their normalized digits.
func (r *Resolver) ResolveBatch(ctx context.Context, codes []string) []model.ProductRecord {
	out := make([]model.ProductRecord, len(codes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BatchConcurrency)
	for i, code := range codes {
		if i >= r.cfg.MaxBatchLookups {
			digits, _ := model.NormalizeBarcode(code)
			out[i] = model.NotFound(digits)
			continue
		}
		g.Go(func() error {
			out[i] = r.Resolve(gctx, code)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
