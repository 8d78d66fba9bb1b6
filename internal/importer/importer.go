package importer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sku-lookup/internal/category"
	"github.com/sells-group/sku-lookup/internal/model"
)

// DefaultDelay spaces lookups in a bulk import so external catalogs are not
// hammered.
const DefaultDelay = 500 * time.Millisecond

// Resolver resolves one barcode.
type Resolver interface {
	Resolve(ctx context.Context, raw string) model.ProductRecord
}

// Result is the outcome for one imported code.
type Result struct {
	Index      int                 `json:"index"`
	Record     model.ProductRecord `json:"record"`
	Department string              `json:"department"`
}

// Summary totals an import run.
type Summary struct {
	Total    int                  `json:"total"`
	Found    int                  `json:"found"`
	NotFound int                  `json:"not_found"`
	BySource map[model.Source]int `json:"by_source"`
	Elapsed  time.Duration        `json:"elapsed"`
}

// Options configures an Importer.
type Options struct {
	// Delay is the minimum spacing between lookups. Zero uses DefaultDelay;
	// negative disables pacing.
	Delay time.Duration
	// Departments maps results onto store departments. Nil skips mapping.
	Departments *category.Standardizer
	// OnResult is called after each code, in order.
	OnResult func(Result)
}

// Importer resolves code lists one at a time at a fixed pace.
type Importer struct {
	resolver Resolver
	limiter  *rate.Limiter
	opts     Options
}

// New creates an Importer.
func New(res Resolver, opts Options) *Importer {
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}
	im := &Importer{resolver: res, opts: opts}
	if opts.Delay > 0 {
		im.limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}
	return im
}

// Run resolves codes in order. It stops early, returning the partial
// summary, if ctx is cancelled.
func (im *Importer) Run(ctx context.Context, codes []string) (*Summary, error) {
	start := time.Now()
	sum := &Summary{BySource: make(map[model.Source]int)}

	for i, code := range codes {
		if im.limiter != nil {
			if err := im.limiter.Wait(ctx); err != nil {
				sum.Elapsed = time.Since(start)
				return sum, eris.Wrap(err, "importer: pacing")
			}
		} else if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, eris.Wrap(err, "importer: cancelled")
		}

		rec := im.resolver.Resolve(ctx, code)
		sum.Total++
		if rec.Found {
			sum.Found++
			sum.BySource[rec.Source]++
		} else {
			sum.NotFound++
		}

		res := Result{Index: i, Record: rec}
		if im.opts.Departments != nil {
			res.Department = im.opts.Departments.Standardize(rec.Name, rec.Category)
		}
		if im.opts.OnResult != nil {
			im.opts.OnResult(res)
		}
	}

	sum.Elapsed = time.Since(start)
	zap.L().Info("importer: run complete",
		zap.Int("total", sum.Total),
		zap.Int("found", sum.Found),
		zap.Int("not_found", sum.NotFound),
		zap.Duration("duration", sum.Elapsed),
	)
	return sum, nil
}
