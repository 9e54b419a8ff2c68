package csrf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "csrf_tokens_issued_total",
	Help: "Number of CSRF tokens issued",
})

var rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "csrf_rejections_total",
	Help: "Number of requests rejected by CSRF checks, by reason",
}, []string{"reason"})
