package webhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_deliveries_total",
	Help: "Webhook delivery attempts by event type and outcome",
}, []string{"event", "status"})

var deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "webhook_delivery_duration_seconds",
	Help:    "Time spent on a single webhook delivery attempt",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
}, []string{"event", "status"})

var deliveryStatusCodes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_delivery_http_status_total",
	Help: "HTTP status codes returned by webhook receivers",
}, []string{"event", "code"})

var retriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_retries_scheduled_total",
	Help: "Failed deliveries scheduled for another attempt",
}, []string{"event"})

var dlqMovements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_dlq_movements_total",
	Help: "Deliveries moved to the dead letter queue, by reason",
}, []string{"event", "reason"})

var dlqReplays = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_dlq_replays_total",
	Help: "Dead letter replays by outcome",
}, []string{"success"})

var activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "webhook_active_subscriptions",
	Help: "Number of active webhook subscriptions",
})
