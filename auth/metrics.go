package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "auth_logins_total",
	Help: "Number of OAuth callbacks handled, by outcome",
}, []string{"outcome"})

var refreshReuse = promauto.NewCounter(prometheus.CounterOpts{
	Name: "auth_refresh_token_reuse_total",
	Help: "Number of revoked refresh tokens presented again",
})
