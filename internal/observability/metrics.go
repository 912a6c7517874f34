package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	memoryCreateTotal    *prometheus.CounterVec
	memoryRemoveTotal    *prometheus.CounterVec
	memorySearchDuration *prometheus.HistogramVec
	memoryWriteDuration  *prometheus.HistogramVec
	memoryEntriesTotal   *prometheus.GaugeVec

	embeddingDuration  prometheus.Histogram
	embeddingTotal     *prometheus.CounterVec
	embeddingCacheHits *prometheus.CounterVec

	indexState          prometheus.Gauge
	indexBatchesTotal   *prometheus.CounterVec
	indexUpsertedTotal  prometheus.Counter
	indexQueryDuration  prometheus.Histogram
	indexDeleteTotal    *prometheus.CounterVec
	reconcileRunsTotal  *prometheus.CounterVec
	reconcileLastMirror prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			memoryCreateTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_create_total",
					Help: "Total memory create operations by table and status.",
				},
				[]string{"table", "status"},
			),
			memoryRemoveTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_remove_total",
					Help: "Total memory remove operations by table and status.",
				},
				[]string{"table", "status"},
			),
			memorySearchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Merged similarity search duration in seconds by table.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"table"},
			),
			memoryWriteDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memory_write_duration_seconds",
					Help:    "Memory create duration in seconds by table.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"table"},
			),
			memoryEntriesTotal: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "memory_entries_total",
					Help: "Memory rows currently stored, by table.",
				},
				[]string{"table"},
			),
			embeddingDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "embedding_duration_seconds",
					Help:    "Embedding provider call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			embeddingTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "embedding_total",
					Help: "Total embedding provider calls by status.",
				},
				[]string{"status"},
			),
			embeddingCacheHits: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "embedding_cache_lookups_total",
					Help: "Fuzzy embedding cache lookups by outcome.",
				},
				[]string{"outcome"},
			),
			indexState: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "vector_index_state",
					Help: "Vector index client state (0 uninitialized, 1 initializing, 2 ready, 3 degraded).",
				},
			),
			indexBatchesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vector_index_batches_total",
					Help: "Upsert batches dispatched to the vector index by status.",
				},
				[]string{"status"},
			),
			indexUpsertedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "vector_index_upserted_total",
					Help: "Records successfully upserted into the vector index.",
				},
			),
			indexQueryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "vector_index_query_duration_seconds",
					Help:    "Vector index query duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			indexDeleteTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vector_index_delete_total",
					Help: "Vector index delete operations by status.",
				},
				[]string{"status"},
			),
			reconcileRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "index_reconcile_runs_total",
					Help: "Index reconcile runs by status.",
				},
				[]string{"status"},
			),
			reconcileLastMirror: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "index_reconcile_last_mirrored",
					Help: "Records mirrored by the most recent reconcile run.",
				},
			),
		}

		prometheus.MustRegister(
			m.memoryCreateTotal,
			m.memoryRemoveTotal,
			m.memorySearchDuration,
			m.memoryWriteDuration,
			m.memoryEntriesTotal,
			m.embeddingDuration,
			m.embeddingTotal,
			m.embeddingCacheHits,
			m.indexState,
			m.indexBatchesTotal,
			m.indexUpsertedTotal,
			m.indexQueryDuration,
			m.indexDeleteTotal,
			m.reconcileRunsTotal,
			m.reconcileLastMirror,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns an http.Handler exposing the prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordMemoryCreate(table string, duration time.Duration, success bool) {
	m := getMetrics()
	m.memoryCreateTotal.WithLabelValues(table, statusLabel(success)).Inc()
	m.memoryWriteDuration.WithLabelValues(table).Observe(duration.Seconds())
}

func RecordMemoryRemove(table string, success bool) {
	getMetrics().memoryRemoveTotal.WithLabelValues(table, statusLabel(success)).Inc()
}

func RecordMemorySearch(table string, duration time.Duration) {
	getMetrics().memorySearchDuration.WithLabelValues(table).Observe(duration.Seconds())
}

func SetMemoryEntries(table string, total int) {
	getMetrics().memoryEntriesTotal.WithLabelValues(table).Set(float64(total))
}

func RecordEmbedding(duration time.Duration, success bool) {
	m := getMetrics()
	m.embeddingTotal.WithLabelValues(statusLabel(success)).Inc()
	m.embeddingDuration.Observe(duration.Seconds())
}

func RecordEmbeddingCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	getMetrics().embeddingCacheHits.WithLabelValues(outcome).Inc()
}

func SetIndexState(state int) {
	getMetrics().indexState.Set(float64(state))
}

func RecordIndexBatch(success bool, upserted int) {
	m := getMetrics()
	m.indexBatchesTotal.WithLabelValues(statusLabel(success)).Inc()
	if success && upserted > 0 {
		m.indexUpsertedTotal.Add(float64(upserted))
	}
}

func RecordIndexQuery(duration time.Duration) {
	getMetrics().indexQueryDuration.Observe(duration.Seconds())
}

func RecordIndexDelete(success bool) {
	getMetrics().indexDeleteTotal.WithLabelValues(statusLabel(success)).Inc()
}

func RecordReconcileRun(success bool, mirrored int) {
	m := getMetrics()
	m.reconcileRunsTotal.WithLabelValues(statusLabel(success)).Inc()
	if success {
		m.reconcileLastMirror.Set(float64(mirrored))
	}
}
