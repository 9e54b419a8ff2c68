package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ratelimit_decisions_total",
	Help: "Number of rate limit decisions, by outcome",
}, []string{"outcome"})
