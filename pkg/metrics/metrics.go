// Package metrics exposes the domain-specific Prometheus instruments the
// Ingester and query path report against, following the promauto idiom
// the teacher repo uses throughout pkg/infra/metrics/prometheus.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_ingest_documents_total",
		Help: "Documents successfully indexed, by dataset.",
	}, []string{"dataset"})

	IngestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_ingest_errors_total",
		Help: "Per-item bulk failures, by dataset and backend error type.",
	}, []string{"dataset", "reason"})

	IngestChunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_ingest_chunk_duration_seconds",
		Help:    "Wall-clock time to submit and resolve one bulk chunk.",
		Buckets: prometheus.DefBuckets,
	}, []string{"dataset"})

	ReaperDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_reaper_deleted_total",
		Help: "Cross-bucket duplicates deleted, by keep/delete bucket pair.",
	}, []string{"keep_bucket", "delete_bucket"})

	QueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_query_latency_seconds",
		Help:    "Backend round-trip latency, by query class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"class"})
)

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
