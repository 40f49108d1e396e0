package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus metrics collectors.
type Store struct {
	Registry            *prometheus.Registry // Use a custom registry
	SyncRunning         prometheus.Gauge
	RunDuration         *prometheus.HistogramVec
	RunsTotal           *prometheus.CounterVec
	RowsFetchedTotal    *prometheus.CounterVec
	RowsUpsertedTotal   *prometheus.CounterVec
	BatchesFlushedTotal *prometheus.CounterVec
	FlushDuration       *prometheus.HistogramVec
	HalvingDepth        *prometheus.HistogramVec
	APIRequestsTotal    *prometheus.CounterVec
	APIRequestDuration  *prometheus.HistogramVec
	SyncErrorsTotal     *prometheus.CounterVec
}

// NewMetricsStore creates and registers Prometheus metrics.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry() // Create a non-global registry

	return &Store{
		Registry: registry,
		SyncRunning: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "adsync_import_running",
			Help: "Indicates if an import run is currently in progress (1 = running, 0 = not running).",
		}),
		RunDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adsync_run_duration_seconds",
			Help:    "Duration of one sync run per entity.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9h
		}, []string{"entity"}),
		RunsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_runs_total",
			Help: "Total sync runs, labeled by entity and outcome (success, error, skipped_in_progress).",
		}, []string{"entity", "outcome"}),
		RowsFetchedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_rows_fetched_total",
			Help: "Total rows fetched from source APIs, labeled by platform and entity.",
		}, []string{"platform", "entity"}),
		RowsUpsertedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_rows_upserted_total",
			Help: "Total rows written to the destination, labeled by table.",
		}, []string{"table"}),
		BatchesFlushedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_batches_flushed_total",
			Help: "Total buffer flushes, labeled by table and storage kind.",
		}, []string{"table", "storage"}),
		FlushDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adsync_flush_duration_seconds",
			Help:    "Duration histogram for individual buffer flushes.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~5min
		}, []string{"table", "status"}), // Labels: table, status (success, success_halved, failure)
		HalvingDepth: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adsync_batch_halving_depth",
			Help:    "How many recursive halvings a batch needed before its payload fit.",
			Buckets: prometheus.LinearBuckets(0, 1, 12),
		}, []string{"subject"}),
		APIRequestsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_api_requests_total",
			Help: "Total requests issued against external platform APIs, labeled by platform and outcome.",
		}, []string{"platform", "outcome"}), // Outcomes: success, retried, error, reauth
		APIRequestDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adsync_api_request_duration_seconds",
			Help:    "Duration histogram for external API requests.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"platform"}),
		SyncErrorsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_errors_total",
			Help: "Total errors encountered during sync, labeled by type and entity.",
		}, []string{"type", "entity"}), // Types: date_window, storage_init, storage_flush, account_fetch, state_store
	}
}
