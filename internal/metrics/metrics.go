// Package metrics holds the Prometheus instruments of the import pipeline.
//
// Instruments are registered on a caller-supplied registry so tests and the
// CLI can run without touching the global default registry. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "csv_import"

// Metrics groups the pipeline counters and histograms.
type Metrics struct {
	uploads            *prometheus.CounterVec
	rowsStaged         *prometheus.CounterVec
	validations        *prometheus.CounterVec
	publishes          *prometheus.CounterVec
	dataPointsInserted prometheus.Counter
	staleImports       prometheus.Counter
	stageDuration      *prometheus.HistogramVec
	activeUploads      prometheus.Gauge
}

// New registers the pipeline instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads received, by outcome",
		}, []string{"outcome"}),

		rowsStaged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_staged_total",
			Help:      "Rows written to staging, by validation status",
		}, []string{"status"}),

		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validation runs, by resulting import status",
		}, []string{"outcome"}),

		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish attempts, by outcome",
		}, []string{"outcome"}),

		dataPointsInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_points_published_total",
			Help:      "Data points inserted by publishes",
		}),

		staleImports: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_imports_failed_total",
			Help:      "Imports marked failed by the stale import sweeper",
		}),

		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"stage"}),

		activeUploads: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_uploads",
			Help:      "Uploads currently holding a limiter slot",
		}),
	}
}

func (m *Metrics) UploadDone(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RowsStaged(valid, invalid int) {
	if m == nil {
		return
	}
	m.rowsStaged.WithLabelValues("valid").Add(float64(valid))
	m.rowsStaged.WithLabelValues("invalid").Add(float64(invalid))
}

func (m *Metrics) ValidationDone(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

// PublishDone counts a publish attempt and, on success, its data points.
func (m *Metrics) PublishDone(outcome string, points int) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(outcome).Inc()
	m.dataPointsInserted.Add(float64(points))
}

func (m *Metrics) StaleImportsFailed(n int64) {
	if m == nil {
		return
	}
	m.staleImports.Add(float64(n))
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) UploadStarted() {
	if m == nil {
		return
	}
	m.activeUploads.Inc()
}

func (m *Metrics) UploadFinished() {
	if m == nil {
		return
	}
	m.activeUploads.Dec()
}
