package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("search")

var searchQueries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "search_queries_total",
	Help: "Number of clip searches, by backend and outcome",
}, []string{"backend", "status"})

var searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "search_query_duration_seconds",
	Help:    "Clip search latency",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"backend"})

var clipsIndexed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "search_clips_indexed",
	Help: "Number of clips indexed",
})

var clipsDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "search_clips_deleted",
	Help: "Number of clips deleted from the index",
})

var indexErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "search_index_errors",
	Help: "Number of clip documents that failed indexing",
})
