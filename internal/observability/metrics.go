package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	StageDuration   *prometheus.HistogramVec // label: stage

	// Manifest discovery metrics.
	ManifestRequests  *prometheus.CounterVec // labels: dataset, outcome={saved,empty,error}
	ManifestFallbacks prometheus.Counter

	// Bulk download metrics.
	Downloads        *prometheus.CounterVec // labels: outcome={done,skipped,error}
	DownloadBytes    prometheus.Counter
	DownloadDuration prometheus.Histogram

	// Normalization metrics.
	FilesProcessed *prometheus.CounterVec // labels: outcome={loaded,empty,skipped,error}
	RowsLoaded     prometheus.Counter
	LoadErrors     prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.StageDuration,
		m.ManifestRequests,
		m.ManifestFallbacks,
		m.Downloads,
		m.DownloadBytes,
		m.DownloadDuration,
		m.FilesProcessed,
		m.RowsLoaded,
		m.LoadErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "enviro_etl",
			Name:      "pipeline_running",
			Help:      "1 while an ingestion run is active, 0 otherwise.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enviro_etl",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		}, []string{"stage"}),
		ManifestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enviro_etl",
			Name:      "manifest_requests_total",
			Help:      "Manifest requests to the EEA discovery API by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		ManifestFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enviro_etl",
			Name:      "manifest_hourly_fallbacks_total",
			Help:      "Manifest requests retried at hourly granularity after an empty daily response.",
		}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enviro_etl",
			Name:      "downloads_total",
			Help:      "Measurement file downloads by outcome.",
		}, []string{"outcome"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enviro_etl",
			Name:      "download_bytes_total",
			Help:      "Total bytes written to the staging tree by the downloader.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "enviro_etl",
			Name:      "download_duration_seconds",
			Help:      "Duration of individual file downloads.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enviro_etl",
			Name:      "files_processed_total",
			Help:      "Parquet measurement files processed by outcome.",
		}, []string{"outcome"}),
		RowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enviro_etl",
			Name:      "rows_loaded_total",
			Help:      "Normalized measurement rows committed to the warehouse.",
		}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enviro_etl",
			Name:      "load_errors_total",
			Help:      "Warehouse transactions rolled back.",
		}),
	}
}
