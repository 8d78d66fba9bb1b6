// Package monitoring watches shared cache health while the server runs and
// posts alerts to a webhook when failed contributions pile up or a catalog
// circuit stays open.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sku-lookup/internal/resilience"
	"github.com/sells-group/sku-lookup/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Shared cache.
	Products      int `json:"products"`
	Contributions int `json:"contributions"`

	// Failed contributions awaiting replay.
	DLQDepth int `json:"dlq_depth"`

	// Catalog circuits not closed, by source.
	OpenCircuits map[string]string `json:"open_circuits,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatsReader is the store surface the collector needs.
type StatsReader interface {
	Stats(ctx context.Context) (*store.Stats, error)
	CountDLQ(ctx context.Context) (int, error)
}

// BreakerStates reports the state of every source circuit.
type BreakerStates interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers health metrics from the store and circuit breakers.
type Collector struct {
	store    StatsReader
	breakers BreakerStates
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(st StatsReader, breakers BreakerStates) *Collector {
	return &Collector{store: st, breakers: breakers}
}

// Collect gathers a snapshot of system health.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: store stats")
	}
	snap.Products = stats.Products
	snap.Contributions = stats.Contributions

	depth, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = depth

	if c.breakers != nil {
		for name, state := range c.breakers.States() {
			if state == resilience.CircuitClosed {
				continue
			}
			if snap.OpenCircuits == nil {
				snap.OpenCircuits = make(map[string]string)
			}
			snap.OpenCircuits[name] = state.String()
		}
	}

	return snap, nil
}
