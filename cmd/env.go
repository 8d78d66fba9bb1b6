package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/category"
	"github.com/sells-group/sku-lookup/internal/config"
	"github.com/sells-group/sku-lookup/internal/contrib"
	"github.com/sells-group/sku-lookup/internal/metrics"
	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/resilience"
	"github.com/sells-group/sku-lookup/internal/resolver"
	"github.com/sells-group/sku-lookup/internal/source"
	"github.com/sells-group/sku-lookup/internal/store"
)

// lookupEnv holds everything a resolving command needs.
type lookupEnv struct {
	Store    store.Store
	Writer   *contrib.Writer
	Resolver *resolver.Resolver
	Metrics  *metrics.Registry
	Breakers *resilience.ServiceBreakers
	Tables   category.Tables
}

// Close drains running resolutions, then pending contributions, then closes
// the store.
func (e *lookupEnv) Close() {
	e.Resolver.Close()
	e.Writer.Close()
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initLookup opens the store and builds the resolver chain from config.
func initLookup(ctx context.Context) (*lookupEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	tables, err := loadTables(cfg.Category)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	reg := metrics.NewRegistry()
	writer := newWriter(st, reg)

	breakers := resilience.NewServiceBreakers(source.BreakerConfig(
		cfg.Resilience.BreakerThreshold,
		cfg.Resilience.BreakerResetSecs,
	))
	breakers.OnStateChange = func(service string, from, to resilience.CircuitState) {
		zap.L().Warn("source circuit changed",
			zap.String("source", service),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		reg.SetCircuitState(service, int(to))
	}

	res := resolver.New(
		buildAdapters(st, cfg.Sources, breakers),
		category.NewCorrector(tables),
		writer,
		resolver.Config{
			Deadline:         cfg.Resolver.Deadline(),
			MaxBatchLookups:  cfg.Resolver.MaxBatchLookups,
			BatchConcurrency: cfg.Resolver.BatchConcurrency,
		},
		resolver.WithObserver(reg),
	)

	return &lookupEnv{
		Store:    st,
		Writer:   writer,
		Resolver: res,
		Metrics:  reg,
		Breakers: breakers,
		Tables:   tables,
	}, nil
}

func newWriter(st store.Store, reg *metrics.Registry) *contrib.Writer {
	return contrib.NewWriter(st, contrib.Config{
		WriteTimeout: cfg.Resolver.WriteTimeout(),
		Retry: resilience.FromRetryConfig(
			cfg.Resilience.MaxAttempts,
			cfg.Resilience.InitialBackoffMs,
			cfg.Resilience.MaxBackoffMs,
		),
		MaxReplays: cfg.Resilience.MaxReplays,
		OnOutcome: func(o contrib.Outcome) {
			if reg != nil {
				reg.ObserveContribution(string(o))
			}
		},
	})
}

// buildAdapters returns the source chain in priority order: shared cache
// first, then each enabled external catalog.
func buildAdapters(st source.EntryGetter, sc config.SourcesConfig, breakers *resilience.ServiceBreakers) []source.Adapter {
	adapters := []source.Adapter{source.NewSharedCache(st)}

	catalogs := []struct {
		src  model.Source
		conf config.SourceConfig
		build func(source.Config, ...source.Option) source.Adapter
	}{
		{model.SourceSpider, sc.Spider, func(c source.Config, o ...source.Option) source.Adapter { return source.NewSpider(c, o...) }},
		{model.SourceOpenFacts, sc.OpenFacts, func(c source.Config, o ...source.Option) source.Adapter { return source.NewOpenFacts(c, o...) }},
		{model.SourceGenericDB, sc.GenericDB, func(c source.Config, o ...source.Option) source.Adapter { return source.NewGenericDB(c, o...) }},
	}
	for _, c := range catalogs {
		if !c.conf.Enabled {
			zap.L().Debug("source disabled", zap.String("source", string(c.src)))
			continue
		}
		var opts []source.Option
		if breakers != nil {
			opts = append(opts, source.WithBreaker(breakers.Get(string(c.src))))
		}
		adapters = append(adapters, c.build(source.Config{
			BaseURL:    c.conf.BaseURL,
			APIKey:     c.conf.APIKey,
			Timeout:    c.conf.Timeout(),
			RatePerSec: c.conf.RatePerSec,
			UserAgent:  sc.UserAgent,
		}, opts...))
	}
	return adapters
}

func loadTables(cc config.CategoryConfig) (category.Tables, error) {
	if cc.BrandsFile != "" {
		return category.LoadTables(cc.BrandsFile)
	}
	return category.DefaultTables()
}

func importDelay() time.Duration {
	if cfg.Import.DelayMs == 0 {
		return -1
	}
	return time.Duration(cfg.Import.DelayMs) * time.Millisecond
}
