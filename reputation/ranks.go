package reputation

const (
	RankLegend      = "Legend"
	RankVeteran     = "Veteran"
	RankContributor = "Contributor"
	RankRegular     = "Regular"
	RankMember      = "Member"
	RankNewcomer    = "Newcomer"
)

var rankThresholds = []struct {
	min  int
	name string
}{
	{10000, RankLegend},
	{5000, RankVeteran},
	{1000, RankContributor},
	{500, RankRegular},
	{100, RankMember},
}

// RankFor maps karma points to a display rank.
func RankFor(karma int) string {
	for _, t := range rankThresholds {
		if karma >= t.min {
			return t.name
		}
	}
	return RankNewcomer
}

// minimum karma for gated actions
var actionGates = map[string]int{
	"create_tags":       10,
	"report_content":    50,
	"submit_clips":      100,
	"nominate_featured": 500,
}

// CanPerformAction reports whether a user with the given karma may perform
// action, along with the karma the action requires. Ungated actions are always
// allowed.
func CanPerformAction(karma int, action string) (bool, int) {
	required, ok := actionGates[action]
	if !ok {
		return true, 0
	}
	return karma >= required, required
}
