package actionable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ist-insights-go/internal/aggregator"
)

func kinds(cards []ActionCard) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.Kind
	}
	return out
}

func TestGenerate_EmptyReportFallsBackToMonitor(t *testing.T) {
	cards := Generate(aggregator.ComputeClassReport(nil, "c1"))
	require.Len(t, cards, 1)
	assert.Equal(t, KindMonitor, cards[0].Kind)
}

func TestGenerate_FromComputedReport(t *testing.T) {
	events := []aggregator.IstEventForReport{
		aggregator.NewReportEvent("1", "c1", "2025-01-14T10:00:00Z", "recursion", "loops"),
		aggregator.NewReportEvent("2", "c1", "2025-01-13T10:00:00Z", "recursion"),
		aggregator.NewReportEvent("3", "c1", "2025-01-05T10:00:00Z", "big-o"),
		{ID: "4", CourseID: "c1", CreatedAt: "2025-01-05T10:00:00Z", Skills: "oops", HasSkills: true},
	}
	r := aggregator.ComputeClassReport(events, "c1", aggregator.WithGapThreshold(0.3))

	cards := Generate(r)
	assert.Equal(t, []string{KindConcentration, KindRising, KindDeclining, KindGaps, KindDataQuality}, kinds(cards))
	assert.Contains(t, cards[0].Insight, `"recursion"`)
	assert.Contains(t, cards[0].Insight, "50%")
	assert.Contains(t, cards[2].Insight, `"big-o"`)
	assert.Contains(t, cards[4].Insight, "1 events with malformed skills")
}

func TestGenerate_ConcentrationThreshold(t *testing.T) {
	r := aggregator.ClassReport{
		TopSkills: []aggregator.SkillStat{{Skill: "a", Count: 34, Share: 0.34}},
		Coverage:  aggregator.Coverage{Top1Share: 0.34},
	}
	assert.Equal(t, []string{KindMonitor}, kinds(Generate(r)))

	r.Coverage.Top1Share = 0.35
	assert.Equal(t, []string{KindConcentration}, kinds(Generate(r)))
}

func TestGenerate_NamesAtMostThreeSkills(t *testing.T) {
	r := aggregator.ClassReport{
		GapThreshold: 0.02,
		GapsCount:    5,
		Gaps: []aggregator.SkillStat{
			{Skill: "a"}, {Skill: "b"}, {Skill: "c"}, {Skill: "d"}, {Skill: "e"},
		},
	}
	cards := Generate(r)
	require.Len(t, cards, 1)
	assert.Equal(t, KindGaps, cards[0].Kind)
	assert.Contains(t, cards[0].Insight, "5 skills appear in under 2%")
	assert.Equal(t, `Add practice items covering "a", "b", "c"`, cards[0].Action)
}
