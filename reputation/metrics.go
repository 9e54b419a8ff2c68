package reputation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var votesCast = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reputation_votes_total",
	Help: "Number of votes recorded, by target and direction",
}, []string{"target", "direction"})

var karmaChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reputation_karma_changes_total",
	Help: "Number of karma history entries written, by source",
}, []string{"source"})

var badgesAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reputation_badges_awarded_total",
	Help: "Number of badges awarded",
}, []string{"badge"})

var leaderboardBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reputation_leaderboard_builds_total",
	Help: "Number of leaderboard pages computed on cache miss",
}, []string{"type"})

var favoriteChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reputation_favorite_changes_total",
	Help: "Number of favorites added or removed",
}, []string{"action"})
