// Package metrics defines the Prometheus collectors for the anonymization
// service and exposes the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for a running instance. Each
// instance owns its registry so tests can construct them freely.
type Metrics struct {
	registry *prometheus.Registry

	PassesTotal        *prometheus.CounterVec
	PassDuration       *prometheus.HistogramVec
	SpansReplacedTotal *prometheus.CounterVec
	SpansSkippedTotal  *prometheus.CounterVec
	SecretFailures     *prometheus.CounterVec
}

// Skip reasons recorded on SpansSkippedTotal.
const (
	SkipInvalid    = "invalid"
	SkipOverlap    = "overlap"
	SkipResolution = "resolution"
)

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewrite_passes_total",
				Help: "Rewrite passes run, by direction (anonymize, deanonymize) and outcome (ok, noop).",
			},
			[]string{"direction", "outcome"},
		),
		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rewrite_pass_duration_seconds",
				Help:    "Duration of a full document rewrite pass in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"direction"},
		),
		SpansReplacedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spans_replaced_total",
				Help: "Spans whose text was substituted, by direction.",
			},
			[]string{"direction"},
		),
		SpansSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spans_skipped_total",
				Help: "Spans skipped during a pass, by reason (invalid, overlap, resolution).",
			},
			[]string{"reason"},
		),
		SecretFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secret_resolution_failures_total",
				Help: "Failed encrypt/decrypt calls, by operation.",
			},
			[]string{"op"},
		),
	}

	m.registry.MustRegister(
		m.PassesTotal,
		m.PassDuration,
		m.SpansReplacedTotal,
		m.SpansSkippedTotal,
		m.SecretFailures,
	)
	return m
}

// Handler returns the scrape handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
