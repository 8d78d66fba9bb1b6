// Package resolver turns a scanned barcode into a product record.
//
// Sources are tried strictly in priority order under one global deadline.
// The first hit wins, is category-corrected, and, when it came from an
// external catalog, is fed back into the shared cache in the background.
// Resolve never fails: every error collapses to a not-found record.
package resolver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/source"
)

const (
	// DefaultDeadline is the hard ceiling on one resolution.
	DefaultDeadline = 15 * time.Second
	// DefaultMaxBatchLookups caps how many codes one batch resolves.
	DefaultMaxBatchLookups = 100
	// DefaultBatchConcurrency bounds parallel resolutions within a batch.
	DefaultBatchConcurrency = 4
)

// Corrector rewrites the category of a winning record.
type Corrector interface {
	Correct(rec model.ProductRecord) model.ProductRecord
}

// Contributor accepts winning external records for the shared cache. Submit
// must not block on the write.
type Contributor interface {
	Submit(rec model.ProductRecord, attr model.Attribution)
}

// Observer receives resolution metrics.
type Observer interface {
	ObserveLookup(found bool, source string, d time.Duration)
	ObserveAttempt(source, result string)
}

// Config tunes the resolver.
type Config struct {
	Deadline         time.Duration
	MaxBatchLookups  int
	BatchConcurrency int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.obs = o }
}

// Resolver runs the source chain.
type Resolver struct {
	adapters  []source.Adapter
	corrector Corrector
	writer    Contributor
	obs       Observer
	cfg       Config
	flights   singleflight.Group

	// mu guards closed and every chains.Add, so no chain starts once
	// Close is waiting.
	mu     sync.Mutex
	closed bool
	chains sync.WaitGroup
}

// New creates a Resolver over adapters in priority order. writer may be nil,
// in which case nothing is contributed.
func New(adapters []source.Adapter, corrector Corrector, writer Contributor, cfg Config, opts ...Option) *Resolver {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.MaxBatchLookups <= 0 {
		cfg.MaxBatchLookups = DefaultMaxBatchLookups
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	r := &Resolver{
		adapters:  adapters,
		corrector: corrector,
		writer:    writer,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type attributionKey struct{}

// WithAttribution returns a context carrying who is scanning. It is stored
// on any cache entry the resolution creates.
func WithAttribution(ctx context.Context, attr model.Attribution) context.Context {
	return context.WithValue(ctx, attributionKey{}, attr)
}

// AttributionFrom returns the attribution stored in ctx, if any.
func AttributionFrom(ctx context.Context) model.Attribution {
	attr, _ := ctx.Value(attributionKey{}).(model.Attribution)
	return attr
}

// Resolve returns the product for raw, or a not-found record. It returns by
// the configured deadline even if a source never answers; the abandoned
// chain finishes in the background and its result is discarded.
func (r *Resolver) Resolve(ctx context.Context, raw string) model.ProductRecord {
	start := time.Now()
	barcode, ok := model.NormalizeBarcode(raw)
	if !ok {
		return model.NotFound(barcode)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Deadline)
	defer cancel()

	// Concurrent callers for one barcode share a chain. The chain runs on a
	// context detached from any single caller but bounded by the same
	// deadline; DoChan's channel is buffered so an abandoned flight never
	// blocks.
	flight := r.flights.DoChan(barcode, func() (any, error) {
		if !r.startChain() {
			return model.NotFound(barcode), nil
		}
		defer r.chains.Done()
		fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Deadline)
		defer fcancel()
		return r.run(fctx, barcode), nil
	})

	var rec model.ProductRecord
	select {
	case res := <-flight:
		rec = res.Val.(model.ProductRecord)
	case <-ctx.Done():
		zap.L().Warn("resolver: deadline exceeded",
			zap.String("barcode", barcode),
			zap.Duration("duration", time.Since(start)),
		)
		rec = model.NotFound(barcode)
	}

	if r.obs != nil {
		r.obs.ObserveLookup(rec.Found, string(rec.Source), time.Since(start))
	}
	return rec
}

// Close stops new chains from starting and waits for running ones, which
// may still be contributing after their callers gave up. Resolve after Close
// returns not found.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.chains.Wait()
}

func (r *Resolver) startChain() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.chains.Add(1)
	return true
}

// run walks the chain once. A hit that arrives after ctx expired is
// dropped, so late answers are neither returned nor contributed.
func (r *Resolver) run(ctx context.Context, barcode string) model.ProductRecord {
	for _, a := range r.adapters {
		if ctx.Err() != nil {
			return model.NotFound(barcode)
		}

		name := string(a.Name())
		rec, err := a.Lookup(ctx, barcode)
		switch {
		case err != nil:
			r.attempt(name, "error")
			zap.L().Debug("resolver: source failed",
				zap.String("barcode", barcode),
				zap.String("source", name),
				zap.Error(err),
			)
			continue
		case !rec.Found:
			r.attempt(name, "miss")
			continue
		}
		r.attempt(name, "found")

		if ctx.Err() != nil {
			return model.NotFound(barcode)
		}

		rec.Barcode = barcode
		if rec.Source == "" {
			rec.Source = a.Name()
		}
		if r.corrector != nil {
			rec = r.corrector.Correct(rec)
		}
		if rec.Source.External() && r.writer != nil {
			r.writer.Submit(rec, AttributionFrom(ctx))
		}
		return rec
	}
	return model.NotFound(barcode)
}

func (r *Resolver) attempt(source, result string) {
	if r.obs != nil {
		r.obs.ObserveAttempt(source, result)
	}
}
