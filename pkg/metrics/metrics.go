// Package metrics exposes Prometheus instrumentation for the registry
// and the janitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepsTotal counts janitor sweeps by kind (scheduled or manual)
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempstore_sweeps_total",
		Help: "Total number of janitor sweeps",
	}, []string{"kind"})

	// SweepsSkipped counts scheduled ticks dropped because a sweep was running
	SweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempstore_sweeps_skipped_total",
		Help: "Scheduled sweep ticks skipped because a sweep was already running",
	})

	// FilesDeletedTotal counts files removed by sweeps
	FilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempstore_sweep_files_deleted_total",
		Help: "Total number of files deleted by janitor sweeps",
	})

	// BytesReclaimedTotal counts bytes reclaimed by sweeps
	BytesReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempstore_sweep_bytes_reclaimed_total",
		Help: "Total bytes reclaimed by janitor sweeps",
	})

	// SweepErrorsTotal counts per-file errors recorded during sweeps
	SweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempstore_sweep_errors_total",
		Help: "Per-file errors recorded during janitor sweeps",
	})

	// SweepDuration observes sweep wall time
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tempstore_sweep_duration_seconds",
		Help:    "Duration of janitor sweeps in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	// FilesTracked reports how many files the registry currently holds
	FilesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempstore_files_tracked",
		Help: "Number of temporary files currently tracked by the registry",
	})
)
