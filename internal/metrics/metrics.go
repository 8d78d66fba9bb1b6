// Package metrics exposes resolution and shared cache metrics on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the service exports.
type Registry struct {
	reg *prometheus.Registry

	Lookups        *prometheus.CounterVec
	SourceAttempts *prometheus.CounterVec
	LookupLatency  prometheus.Histogram
	Contributions  *prometheus.CounterVec
	CircuitState   *prometheus.GaugeVec
	ImportedCodes  *prometheus.CounterVec
}

// NewRegistry creates a Registry with Go runtime collectors attached.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sku_lookups_total",
		Help: "Barcode resolutions by outcome and winning source.",
	}, []string{"outcome", "source"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sku_source_attempts_total",
		Help: "Per-source lookup attempts by result.",
	}, []string{"source", "result"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sku_lookup_duration_seconds",
		Help:    "End-to-end resolution latency.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})
	contributions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sku_contributions_total",
		Help: "Shared cache writes by outcome.",
	}, []string{"outcome"})
	circuit := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sku_source_circuit_state",
		Help: "Circuit breaker state per source (0 closed, 1 open, 2 half-open).",
	}, []string{"source"})
	imported := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sku_import_codes_total",
		Help: "Bulk import codes by result.",
	}, []string{"result"})

	r.MustRegister(
		lookups, attempts, latency, contributions, circuit, imported,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		reg:            r,
		Lookups:        lookups,
		SourceAttempts: attempts,
		LookupLatency:  latency,
		Contributions:  contributions,
		CircuitState:   circuit,
		ImportedCodes:  imported,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveLookup records one finished resolution. source is empty on a miss.
func (r *Registry) ObserveLookup(found bool, source string, d time.Duration) {
	outcome := "miss"
	if found {
		outcome = "hit"
	}
	if source == "" {
		source = "none"
	}
	r.Lookups.WithLabelValues(outcome, source).Inc()
	r.LookupLatency.Observe(d.Seconds())
}

// ObserveAttempt records one adapter call: "found", "miss" or "error".
func (r *Registry) ObserveAttempt(source, result string) {
	r.SourceAttempts.WithLabelValues(source, result).Inc()
}

// ObserveContribution records one shared cache write outcome.
func (r *Registry) ObserveContribution(outcome string) {
	r.Contributions.WithLabelValues(outcome).Inc()
}

// SetCircuitState records a source's breaker state.
func (r *Registry) SetCircuitState(source string, state int) {
	r.CircuitState.WithLabelValues(source).Set(float64(state))
}

// ObserveImport records one bulk import code.
func (r *Registry) ObserveImport(found bool) {
	result := "not_found"
	if found {
		result = "found"
	}
	r.ImportedCodes.WithLabelValues(result).Inc()
}
