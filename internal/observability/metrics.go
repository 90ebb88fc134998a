package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reservoir_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion pipeline.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec   // labels: outcome={success,fetch,extract,parse,commit,unknown}
	StageDuration   *prometheus.HistogramVec // labels: stage={locate,fetch,extract,parse,normalize,commit}
	PipelineRunning prometheus.Gauge

	LocatorFallbacks prometheus.Counter
	ArchiveBytes     prometheus.Gauge

	// Row accounting for the most recent run.
	RowsParsed       prometheus.Gauge
	RecordsCommitted prometheus.Gauge
	RecordsDropped   prometheus.Gauge

	LastSuccessTimestamp prometheus.Gauge
	NotifyErrors         prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.StageDuration,
		m.PipelineRunning,
		m.LocatorFallbacks,
		m.ArchiveBytes,
		m.RowsParsed,
		m.RecordsCommitted,
		m.RecordsDropped,
		m.LastSuccessTimestamp,
		m.NotifyErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome; failures are labelled with the failing stage.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in flight, 0 otherwise.",
		}),
		LocatorFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locator_fallbacks_total",
			Help:      "Runs that used the fallback archive URL because the landing page scan failed.",
		}),
		ArchiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_bytes",
			Help:      "Size of the most recently downloaded archive.",
		}),
		RowsParsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_parsed",
			Help:      "Rows read from the payload in the most recent run.",
		}),
		RecordsCommitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_committed",
			Help:      "Records in the current snapshot.",
		}),
		RecordsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_dropped",
			Help:      "Records rejected in the most recent run for a missing entity or date.",
		}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful commit.",
		}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Snapshot notifications that failed to publish.",
		}),
	}
}
