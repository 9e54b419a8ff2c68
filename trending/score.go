package trending

import (
	"math"
	"time"

	"github.com/subculture-collective/clipper/models"
)

// hotEpochDivisor sets how many seconds of recency are worth one order of
// magnitude of votes in the hot ranking.
const hotEpochDivisor = 45000

// Engagement weighs interactions by effort: a comment counts for more than
// a view. Negative totals are clamped to zero.
func Engagement(views, voteScore, comments, favorites int) int {
	e := views + 2*voteScore + 3*comments + 2*favorites
	if e < 0 {
		return 0
	}
	return e
}

// TrendingScore is engagement per hour of age, with ages under an hour
// counted as one hour.
func TrendingScore(engagement int, createdAt, now time.Time) float64 {
	age := now.Sub(createdAt).Hours()
	if age < 1 {
		age = 1
	}
	return float64(engagement) / age
}

// HotScore is the log-scaled vote ranking used by link aggregators: each
// 10x in net votes is worth hotEpochDivisor seconds of recency.
func HotScore(voteScore int, createdAt time.Time) float64 {
	order := math.Log10(math.Max(math.Abs(float64(voteScore)), 1))
	var sign float64
	switch {
	case voteScore > 0:
		sign = 1
	case voteScore < 0:
		sign = -1
	}
	return sign*order + float64(createdAt.Unix())/hotEpochDivisor
}

// Scores computes all three ranking values for a clip.
func Scores(c *models.Clip, now time.Time) (engagement int, trending, hot float64) {
	engagement = Engagement(c.ViewCount, c.VoteScore, c.CommentCount, c.FavoriteCount)
	return engagement, TrendingScore(engagement, c.CreatedAt, now), HotScore(c.VoteScore, c.CreatedAt)
}
