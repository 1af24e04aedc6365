package actionable

import (
	"fmt"
	"strings"

	"ist-insights-go/internal/aggregator"
)

const (
	KindConcentration = "concentration"
	KindRising        = "rising"
	KindDeclining     = "declining"
	KindGaps          = "gaps"
	KindDataQuality   = "data_quality"
	KindMonitor       = "monitor"
)

// concentrationThreshold is the top-1 share at which one skill dominates the class.
const concentrationThreshold = 0.35

// maxNamed caps how many skills a card lists by name.
const maxNamed = 3

type ActionCard struct {
	Kind    string `json:"kind"`
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// Generate derives instructor-facing cards from a class report. It always
// returns at least one card.
func Generate(r aggregator.ClassReport) []ActionCard {
	var cards []ActionCard

	if len(r.TopSkills) > 0 && r.Coverage.Top1Share >= concentrationThreshold {
		top := r.TopSkills[0]
		cards = append(cards, ActionCard{
			Kind:    KindConcentration,
			Insight: fmt.Sprintf("High concentration on %q (%.0f%% of skill mentions)", top.Skill, r.Coverage.Top1Share*100),
			Action:  fmt.Sprintf("Schedule a review session on %q and check its prerequisites", top.Skill),
			Impact:  "Unblock the most common struggle point for the class",
		})
	}

	if names := trendNames(r.Trends.RisingSkills); len(names) > 0 {
		cards = append(cards, ActionCard{
			Kind:    KindRising,
			Insight: "More questions this week about " + joinNames(names),
			Action:  "Add worked examples for these topics to the next lesson",
			Impact:  "Address emerging confusion before it spreads",
		})
	}

	if names := trendNames(r.Trends.DecliningSkills); len(names) > 0 {
		cards = append(cards, ActionCard{
			Kind:    KindDeclining,
			Insight: "Fewer questions this week about " + joinNames(names),
			Action:  "Run a short formative check to confirm these topics were mastered, not dropped",
			Impact:  "Catch disengagement early",
		})
	}

	if r.GapsCount > 0 {
		names := make([]string, 0, min(len(r.Gaps), maxNamed))
		for _, g := range r.Gaps[:min(len(r.Gaps), maxNamed)] {
			names = append(names, g.Skill)
		}
		cards = append(cards, ActionCard{
			Kind:    KindGaps,
			Insight: fmt.Sprintf("%d skills appear in under %.0f%% of skill mentions", r.GapsCount, r.GapThreshold*100),
			Action:  "Add practice items covering " + joinNames(names),
			Impact:  "Broaden coverage of rarely practised skills",
		})
	}

	dq := r.DataQuality
	if bad := dq.EventsMissingSkillsField + dq.EventsSkillsNotArray; bad > 0 || dq.InvalidSkillEntriesDropped > 0 {
		cards = append(cards, ActionCard{
			Kind: KindDataQuality,
			Insight: fmt.Sprintf("%d events with malformed skills and %d invalid skill entries dropped",
				bad, dq.InvalidSkillEntriesDropped),
			Action: "Check the IST extraction service output for this course",
			Impact: "Improve report accuracy",
		})
	}

	if len(cards) == 0 {
		cards = append(cards, ActionCard{
			Kind:    KindMonitor,
			Insight: "No strong skill pattern detected",
			Action:  "Monitor and collect more data",
			Impact:  "Low immediate intervention",
		})
	}
	return cards
}

func trendNames(trends []aggregator.SkillTrend) []string {
	names := make([]string, 0, min(len(trends), maxNamed))
	for _, t := range trends[:min(len(trends), maxNamed)] {
		names = append(names, t.Skill)
	}
	return names
}

func joinNames(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ")
}
