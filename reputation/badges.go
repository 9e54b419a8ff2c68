package reputation

import (
	"sort"
)

const (
	BadgeCategoryAchievement = "achievement"
	BadgeCategorySpecial     = "special"
	BadgeCategoryStaff       = "staff"
	BadgeCategorySupporter   = "supporter"
)

type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Category    string `json:"category"`
	Requirement string `json:"requirement,omitempty"`
}

var badges = map[string]Badge{
	"veteran": {
		ID:          "veteran",
		Name:        "Veteran",
		Description: "Member for over 1 year",
		Icon:        "🏆",
		Category:    BadgeCategoryAchievement,
		Requirement: "1 year account age",
	},
	"influencer": {
		ID:          "influencer",
		Name:        "Influencer",
		Description: "Earned 10,000+ karma",
		Icon:        "⭐",
		Category:    BadgeCategoryAchievement,
		Requirement: "10,000 karma",
	},
	"trusted_user": {
		ID:          "trusted_user",
		Name:        "Trusted User",
		Description: "Earned 1,000+ karma",
		Icon:        "✅",
		Category:    BadgeCategoryAchievement,
		Requirement: "1,000 karma",
	},
	"conversationalist": {
		ID:          "conversationalist",
		Name:        "Conversationalist",
		Description: "Posted 100+ comments",
		Icon:        "💬",
		Category:    BadgeCategoryAchievement,
		Requirement: "100 comments",
	},
	"curator": {
		ID:          "curator",
		Name:        "Curator",
		Description: "Cast 1,000+ votes",
		Icon:        "👍",
		Category:    BadgeCategoryAchievement,
		Requirement: "1,000 votes",
	},
	"submitter": {
		ID:          "submitter",
		Name:        "Submitter",
		Description: "Submitted 50+ clips",
		Icon:        "📹",
		Category:    BadgeCategoryAchievement,
		Requirement: "50 clip submissions",
	},
	"early_adopter": {
		ID:          "early_adopter",
		Name:        "Early Adopter",
		Description: "Joined during beta",
		Icon:        "🚀",
		Category:    BadgeCategorySpecial,
	},
	"beta_tester": {
		ID:          "beta_tester",
		Name:        "Beta Tester",
		Description: "Participated in beta testing",
		Icon:        "🧪",
		Category:    BadgeCategorySpecial,
	},
	"moderator": {
		ID:          "moderator",
		Name:        "Moderator",
		Description: "Community moderator",
		Icon:        "🛡️",
		Category:    BadgeCategoryStaff,
	},
	"admin": {
		ID:          "admin",
		Name:        "Admin",
		Description: "Site administrator",
		Icon:        "👑",
		Category:    BadgeCategoryStaff,
	},
	"developer": {
		ID:          "developer",
		Name:        "Developer",
		Description: "Platform developer",
		Icon:        "💻",
		Category:    BadgeCategoryStaff,
	},
	"supporter": {
		ID:          "supporter",
		Name:        "Supporter",
		Description: "Financial supporter",
		Icon:        "❤️",
		Category:    BadgeCategorySupporter,
	},
}

func BadgeDefinition(id string) (Badge, bool) {
	b, ok := badges[id]
	return b, ok
}

func IsValidBadge(id string) bool {
	_, ok := badges[id]
	return ok
}

// AllBadges returns every badge definition, grouped by category.
func AllBadges() []Badge {
	out := make([]Badge, 0, len(badges))
	for _, b := range badges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type autoBadgeInput struct {
	karma          int
	accountAgeDays int
	comments       int
	votes          int
	submissions    int
}

// automatic badges and the condition that earns them, in award order
var autoBadges = []struct {
	id string
	earned func(autoBadgeInput) bool
}{
	{"influencer", func(in autoBadgeInput) bool { return in.karma >= 10000 }},
	{"trusted_user", func(in autoBadgeInput) bool { return in.karma >= 1000 }},
	{"veteran", func(in autoBadgeInput) bool { return in.accountAgeDays >= 365 }},
	{"conversationalist", func(in autoBadgeInput) bool { return in.comments >= 100 }},
	{"curator", func(in autoBadgeInput) bool { return in.votes >= 1000 }},
	{"submitter", func(in autoBadgeInput) bool { return in.submissions >= 50 }},
}

func earnedBadges(in autoBadgeInput) []string {
	var out []string
	for _, ab := range autoBadges {
		if ab.earned(in) {
			out = append(out, ab.id)
		}
	}
	return out
}
