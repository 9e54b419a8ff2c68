package reputation

import (
	"time"

	"github.com/subculture-collective/clipper/models"
)

const MaxTrustScore = 100

// TrustBreakdown itemizes a trust score. Component maxima are 20 for account
// age, 40 for karma, 20 for report accuracy and 20 for activity.
type TrustBreakdown struct {
	AccountAgeScore int  `json:"account_age_score"`
	KarmaScore      int  `json:"karma_score"`
	ReportAccuracy  int  `json:"report_accuracy"`
	ActivityScore   int  `json:"activity_score"`
	BanPenalty      bool `json:"ban_penalty"`
	TotalScore      int  `json:"total_score"`
	MaxScore        int  `json:"max_score"`

	AccountAgeDays   int `json:"account_age_days"`
	KarmaPoints      int `json:"karma_points"`
	CorrectReports   int `json:"correct_reports"`
	IncorrectReports int `json:"incorrect_reports"`
	TotalComments    int `json:"total_comments"`
	TotalVotes       int `json:"total_votes"`
	DaysActive       int `json:"days_active"`
}

func accountAgeDays(created, now time.Time) int {
	d := int(now.Sub(created).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// ComputeTrust scores a user. stats may be nil for users with no recorded
// activity.
func ComputeTrust(u *models.User, stats *models.UserStats, now time.Time) TrustBreakdown {
	b := TrustBreakdown{
		AccountAgeDays: accountAgeDays(u.CreatedAt, now),
		KarmaPoints:    u.KarmaPoints,
		MaxScore:       MaxTrustScore,
	}
	if stats != nil {
		b.CorrectReports = stats.CorrectReports
		b.IncorrectReports = stats.IncorrectReports
		b.TotalComments = stats.TotalComments
		b.TotalVotes = stats.TotalVotesCast
		b.DaysActive = stats.DaysActive
	}

	b.AccountAgeScore = min(b.AccountAgeDays/18, 20)
	b.KarmaScore = min(b.KarmaPoints/250, 40)
	if reports := b.CorrectReports + b.IncorrectReports; reports > 0 {
		b.ReportAccuracy = 20 * b.CorrectReports / reports
	}
	b.ActivityScore = min(b.TotalComments/10+b.TotalVotes/100+b.DaysActive/5, 20)

	b.TotalScore = b.AccountAgeScore + b.KarmaScore + b.ReportAccuracy + b.ActivityScore
	if u.IsBanned {
		b.BanPenalty = true
		b.TotalScore /= 2
	}
	b.TotalScore = max(0, min(b.TotalScore, MaxTrustScore))
	return b
}

// EngagementScore weights a user's contributions: submissions count most,
// then comments, then days active and votes.
func EngagementScore(stats *models.UserStats) int {
	if stats == nil {
		return 0
	}
	return stats.TotalClipsSubmit*5 + stats.TotalComments*2 + stats.DaysActive*3 + stats.TotalVotesCast
}
