package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000}

var (
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poi_queries_total",
		Help: "Feature queries by mode and outcome",
	}, []string{"mode", "outcome"})
	QueryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poi_query_duration_ms",
		Help:    "Feature query duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"mode"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poi_cache_hits_total",
		Help: "Feature cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poi_cache_misses_total",
		Help: "Feature cache misses",
	})
	IngestRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poi_ingest_records_total",
		Help: "Ingested batch records by outcome (accepted or reject reason)",
	}, []string{"outcome"})
	IngestRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poi_ingest_runs_total",
		Help: "Ingestion runs by terminal state",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(IngestRecordsTotal)
	prometheus.MustRegister(IngestRunsTotal)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }
