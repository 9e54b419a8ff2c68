package toxicity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "toxicity_classifications_total",
	Help: "Number of texts classified, by source and outcome",
}, []string{"source", "toxic"})

var classifyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "toxicity_classify_errors_total",
	Help: "Number of failed classifications",
}, []string{"source"})

var classifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "toxicity_classify_duration_seconds",
	Help:    "Time spent classifying a text",
	Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
}, []string{"source"})

var queuedItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_queue_items_total",
	Help: "Number of items added to the moderation queue",
}, []string{"reason"})
