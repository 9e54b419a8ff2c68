package feeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var feedsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feeds_created_total",
	Help: "Number of feeds created",
})

var feedFollows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feeds_follow_changes_total",
	Help: "Number of feed follows and unfollows",
}, []string{"action"})

var discoverBuilds = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feeds_discover_builds_total",
	Help: "Number of discovery pages computed on cache miss",
})
