// Package metrics exposes Prometheus metrics for the benchmark runner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the benchmark runner. All
// Record* methods are safe on a nil receiver so wiring stays optional.
type Metrics struct {
	// Run lifecycle
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    prometheus.Counter
	RunsCancelled prometheus.Counter

	// Per-item progress
	ItemsCompleted prometheus.Counter
	CatalogSize    prometheus.Gauge
	CurrentItem    prometheus.Gauge

	// Failure counters, one per phase
	FetchFailures         prometheus.Counter
	DownloadFailures      prometheus.Counter
	TranscriptionFailures prometheus.Counter
	UploadFailures        prometheus.Counter

	// Durations
	TranscriptionDuration prometheus.Histogram
	ItemCER               prometheus.Histogram
}

// New creates and registers all metrics against reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_runs_started_total",
			Help: "Total number of benchmark runs started",
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_runs_completed_total",
			Help: "Total number of benchmark runs that completed successfully",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_runs_failed_total",
			Help: "Total number of benchmark runs that ended in error",
		}),
		RunsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_runs_cancelled_total",
			Help: "Total number of benchmark runs cancelled by the user",
		}),
		ItemsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_items_completed_total",
			Help: "Total number of catalog items fully processed",
		}),
		CatalogSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asrbench_catalog_size",
			Help: "Number of items in the current run's catalog",
		}),
		CurrentItem: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asrbench_current_item",
			Help: "1-based index of the item presently being advanced",
		}),
		FetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_fetch_failures_total",
			Help: "Total number of catalog fetch failures",
		}),
		DownloadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_download_failures_total",
			Help: "Total number of item download failures",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_transcription_failures_total",
			Help: "Total number of transcription failures",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asrbench_upload_failures_total",
			Help: "Total number of result upload failures",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asrbench_transcription_duration_seconds",
			Help:    "Wall-clock duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		ItemCER: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asrbench_item_cer",
			Help:    "Character error rate reported per item",
			Buckets: prometheus.LinearBuckets(0, 0.05, 11), // 0.0 to 0.5
		}),
	}
}

// RecordRunStarted increments the runs-started counter and records the
// catalog size for the run.
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
}

// RecordCatalog records the number of items fetched for the run.
func (m *Metrics) RecordCatalog(size int) {
	if m == nil {
		return
	}
	m.CatalogSize.Set(float64(size))
}

// RecordCurrentItem records the 1-based index of the item in progress.
func (m *Metrics) RecordCurrentItem(index int) {
	if m == nil {
		return
	}
	m.CurrentItem.Set(float64(index))
}

// RecordItemCompleted records a fully processed item with its measured
// transcription duration and, when present, its character error rate.
func (m *Metrics) RecordItemCompleted(durationSeconds float64, cer *float64) {
	if m == nil {
		return
	}
	m.ItemsCompleted.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	if cer != nil {
		m.ItemCER.Observe(*cer)
	}
}

// RecordRunCompleted increments the runs-completed counter.
func (m *Metrics) RecordRunCompleted() {
	if m == nil {
		return
	}
	m.RunsCompleted.Inc()
}

// RecordRunCancelled increments the runs-cancelled counter.
func (m *Metrics) RecordRunCancelled() {
	if m == nil {
		return
	}
	m.RunsCancelled.Inc()
}

// RecordFailure increments the run-failed counter plus the phase-specific
// failure counter.
func (m *Metrics) RecordFailure(phase string) {
	if m == nil {
		return
	}
	m.RunsFailed.Inc()
	switch phase {
	case "fetch":
		m.FetchFailures.Inc()
	case "download":
		m.DownloadFailures.Inc()
	case "transcribe":
		m.TranscriptionFailures.Inc()
	case "upload":
		m.UploadFailures.Inc()
	}
}
