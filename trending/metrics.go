package trending

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var clipsRefreshed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "trending_clips_refreshed_total",
	Help: "Number of clip score recomputations",
})

var refreshErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "trending_refresh_errors_total",
	Help: "Number of failed trending refresh runs",
})

var refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "trending_refresh_duration_seconds",
	Help:    "Duration of trending refresh runs",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
})

var lastRefresh = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "trending_last_refresh_timestamp_seconds",
	Help: "Unix time of the last successful trending refresh",
})

var viewsRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "trending_clip_views_total",
	Help: "Number of clip views counted",
})
