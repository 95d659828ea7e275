// Package metrics holds the collector's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics owns a registry so several collectors (and tests) can coexist
// in one process.
type Metrics struct {
	Registry *prometheus.Registry

	ErrorsIngested  *prometheus.CounterVec
	IngestFailures  *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
	StatusUpdates   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ErrorsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "traceiq",
				Name:      "errors_ingested_total",
				Help:      "Total number of error events persisted.",
			},
			[]string{"project", "severity"},
		),
		IngestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "traceiq",
				Name:      "ingest_failures_total",
				Help:      "Error events that could not be persisted.",
			},
			[]string{"project"},
		),
		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "traceiq",
				Name:      "auth_failures_total",
				Help:      "Rejected API key verifications by reason.",
			},
			[]string{"reason"},
		),
		StatusUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "traceiq",
				Name:      "status_updates_total",
				Help:      "Status changes requested per project and target status.",
			},
			[]string{"project", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "traceiq",
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of collector request durations in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "status"},
		),
	}
	m.Registry.MustRegister(
		m.ErrorsIngested,
		m.IngestFailures,
		m.AuthFailures,
		m.StatusUpdates,
		m.RequestDuration,
		collectors.NewGoCollector(),
	)
	return m
}
