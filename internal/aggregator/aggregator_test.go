package aggregator

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func decodeEvents(t *testing.T, payload string) []IstEventForReport {
	t.Helper()
	var events []IstEventForReport
	require.NoError(t, json.Unmarshal([]byte(payload), &events))
	return events
}

func TestComputeClassReport_CoreMetrics(t *testing.T) {
	events := []IstEventForReport{
		NewReportEvent("1", "c1", "2025-01-10T10:00:00.000Z", "A", "A", "B"),
		NewReportEvent("2", "c1", "2025-01-11T10:00:00.000Z", "b", "C"),
	}

	r := ComputeClassReport(events, "c1", WithClock(fixedClock))

	assert.Equal(t, "c1", r.CourseID)
	assert.Equal(t, 2, r.TotalEvents)
	assert.Equal(t, 2, r.EventsWithSkills)
	assert.Equal(t, 3, r.UniqueSkillsCount)
	assert.Equal(t, 4, r.TotalSkillAssignments)
	assert.Equal(t, 2.0, r.AvgSkillsPerEvent)
	assert.Equal(t, 2.0, r.AvgSkillsPerSkilledEvent)
	assert.Equal(t, []SkillStat{
		{Skill: "b", Count: 2, Share: 0.5},
		{Skill: "a", Count: 1, Share: 0.25},
		{Skill: "c", Count: 1, Share: 0.25},
	}, r.TopSkills)

	assert.InDelta(t, 0.5, r.Coverage.Top1Share, 1e-9)
	assert.InDelta(t, 1.0, r.Coverage.Top5Share, 1e-9)
	assert.InDelta(t, 1.0, r.Coverage.Top10Share, 1e-9)
	assert.InDelta(t, 0.0, r.Coverage.LongTailShare, 1e-9)

	require.NotNil(t, r.FirstEventAt)
	require.NotNil(t, r.LastEventAt)
	assert.Equal(t, "2025-01-10T10:00:00.000Z", *r.FirstEventAt)
	assert.Equal(t, "2025-01-11T10:00:00.000Z", *r.LastEventAt)
	assert.Equal(t, "2025-02-01T12:00:00.000Z", r.GeneratedAt)
	assert.Equal(t, DataQuality{}, r.DataQuality)
}

func TestComputeClassReport_SkillsNotArray(t *testing.T) {
	events := decodeEvents(t, `[{"id":"1","courseId":"c1","createdAt":"2025-01-10T10:00:00Z","skills":"not-an-array"}]`)

	r := ComputeClassReport(events, "c1")

	assert.Equal(t, 1, r.TotalEvents)
	assert.Equal(t, 1, r.DataQuality.EventsSkillsNotArray)
	assert.Equal(t, 0, r.DataQuality.EventsMissingSkillsField)
	assert.Equal(t, 0, r.EventsWithSkills)
	assert.Equal(t, 0, r.UniqueSkillsCount)
}

func TestComputeClassReport_MissingSkillsField(t *testing.T) {
	events := decodeEvents(t, `[{"id":"1","courseId":"c1","createdAt":"2025-01-10T10:00:00Z"}]`)

	r := ComputeClassReport(events, "c1")

	assert.Equal(t, 1, r.DataQuality.EventsMissingSkillsField)
	assert.Equal(t, 0, r.DataQuality.EventsSkillsNotArray)
	assert.Equal(t, 0, r.DataQuality.EventsEmptySkillsArray)
}

func TestComputeClassReport_ExplicitNullIsNotCounted(t *testing.T) {
	events := decodeEvents(t, `[{"id":"1","courseId":"c1","skills":null}]`)

	r := ComputeClassReport(events, "c1")

	assert.Equal(t, DataQuality{}, r.DataQuality)
	assert.Equal(t, 1, r.TotalEvents)
	assert.Equal(t, 0, r.EventsWithSkills)
}

func TestComputeClassReport_InvalidEntriesDropped(t *testing.T) {
	events := decodeEvents(t, `[
		{"id":"1","courseId":"c1","createdAt":"2025-01-10T10:00:00Z","skills":["!","   ","Valid Skill"]},
		{"id":"2","courseId":"c1","createdAt":"2025-01-10T11:00:00Z","skills":[1,null,{"x":"y"},"valid   skill"]},
		{"id":"3","courseId":"c1","createdAt":"2025-01-10T12:00:00Z","skills":[]}
	]`)

	r := ComputeClassReport(events, "c1")

	assert.Equal(t, 5, r.DataQuality.InvalidSkillEntriesDropped)
	assert.Equal(t, 1, r.DataQuality.EventsEmptySkillsArray)
	assert.Equal(t, 2, r.EventsWithSkills)
	require.Len(t, r.TopSkills, 1)
	assert.Equal(t, SkillStat{Skill: "valid skill", Count: 2, Share: 1}, r.TopSkills[0])
}

func TestComputeClassReport_EmptyInput(t *testing.T) {
	r := ComputeClassReport(nil, "c1", WithClock(fixedClock))

	assert.Equal(t, 0, r.TotalEvents)
	assert.Equal(t, 0, r.EventsWithSkills)
	assert.Equal(t, 0, r.TotalSkillAssignments)
	assert.Zero(t, r.AvgSkillsPerEvent)
	assert.Zero(t, r.AvgSkillsPerSkilledEvent)
	assert.Nil(t, r.FirstEventAt)
	assert.Nil(t, r.LastEventAt)
	assert.Empty(t, r.TopSkills)
	assert.Empty(t, r.Gaps)
	assert.Equal(t, Coverage{LongTailShare: 1}, r.Coverage)
	assert.Equal(t, emptyTrends(), r.Trends)

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"firstEventAt":null`)
	assert.Contains(t, string(out), `"topSkills":[]`)
	assert.Contains(t, string(out), `"risingSkills":[]`)
	assert.Contains(t, string(out), `"last7Days":{"start":null,"end":null,"events":0,"skillAssignments":0}`)
}

func TestComputeClassReport_FiltersByCourse(t *testing.T) {
	events := []IstEventForReport{
		NewReportEvent("1", "c1", "2025-01-10T10:00:00Z", "arrays"),
		NewReportEvent("2", "c2", "2025-03-10T10:00:00Z", "graphs"),
		NewReportEvent("3", "c2", "2025-03-11T10:00:00Z", "graphs"),
	}

	r := ComputeClassReport(events, "c1")

	assert.Equal(t, 1, r.TotalEvents)
	assert.Equal(t, []SkillStat{{Skill: "arrays", Count: 1, Share: 1}}, r.TopSkills)
	assert.Equal(t, "2025-01-10T10:00:00.000Z", *r.LastEventAt)

	none := ComputeClassReport(events, "unknown")
	assert.Equal(t, 0, none.TotalEvents)
}

func TestComputeClassReport_DatelessEventsCountTowardTotals(t *testing.T) {
	events := []IstEventForReport{
		NewReportEvent("1", "c1", "", "arrays"),
		NewReportEvent("2", "c1", "not a date", "arrays", "loops"),
	}

	r := ComputeClassReport(events, "c1")

	assert.Equal(t, 2, r.TotalEvents)
	assert.Equal(t, 3, r.TotalSkillAssignments)
	assert.Nil(t, r.FirstEventAt)
	assert.Nil(t, r.LastEventAt)
	assert.Equal(t, emptyTrends(), r.Trends)
}

func TestComputeClassReport_MaxSkills(t *testing.T) {
	var events []IstEventForReport
	for i := 0; i < 15; i++ {
		skills := make([]string, 0, i+1)
		for j := 0; j <= i; j++ {
			skills = append(skills, fmt.Sprintf("skill-%02d", j))
		}
		events = append(events, NewReportEvent(fmt.Sprint(i), "c1", "2025-01-10T10:00:00Z", skills...))
	}

	assert.Len(t, ComputeClassReport(events, "c1").TopSkills, DefaultMaxSkills)

	r := ComputeClassReport(events, "c1", WithMaxSkills(3))
	require.Len(t, r.TopSkills, 3)
	assert.Equal(t, "skill-00", r.TopSkills[0].Skill)
	assert.Equal(t, 15, r.TopSkills[0].Count)
	assert.Equal(t, "skill-02", r.TopSkills[2].Skill)

	assert.Len(t, ComputeClassReport(events, "c1", WithMaxSkills(100)).TopSkills, 15)
	assert.Empty(t, ComputeClassReport(events, "c1", WithMaxSkills(-1)).TopSkills)
}

func TestComputeClassReport_TieBreakByName(t *testing.T) {
	events := []IstEventForReport{
		NewReportEvent("1", "c1", "2025-01-10T10:00:00Z", "zeta", "alpha", "Mu"),
	}

	r := ComputeClassReport(events, "c1")

	got := make([]string, 0, len(r.TopSkills))
	for _, s := range r.TopSkills {
		got = append(got, s.Skill)
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, got)
}

func TestComputeClassReport_Gaps(t *testing.T) {
	// common: 60, mid: 30, rare and also rare: 1 each; 92 assignments in total.
	var events []IstEventForReport
	for i := 0; i < 60; i++ {
		skills := []string{"common"}
		if i < 30 {
			skills = append(skills, "mid")
		}
		if i == 0 {
			skills = append(skills, "rare", "also rare")
		}
		events = append(events, NewReportEvent(fmt.Sprint(i), "c1", "2025-01-10T10:00:00Z", skills...))
	}

	r := ComputeClassReport(events, "c1")
	require.Equal(t, 92, r.TotalSkillAssignments)
	assert.Equal(t, DefaultGapThreshold, r.GapThreshold)
	require.Len(t, r.Gaps, 2)
	assert.Equal(t, 2, r.GapsCount)
	assert.Equal(t, "also rare", r.Gaps[0].Skill)
	assert.Equal(t, "rare", r.Gaps[1].Skill)

	none := ComputeClassReport(events, "c1", WithGapThreshold(0))
	assert.Empty(t, none.Gaps)
	assert.Equal(t, 0, none.GapsCount)

	all := ComputeClassReport(events, "c1", WithGapThreshold(1.5))
	assert.Equal(t, 4, all.GapsCount)
	assert.Equal(t, "common", all.Gaps[3].Skill)
	for i := 1; i < len(all.Gaps); i++ {
		assert.LessOrEqual(t, all.Gaps[i-1].Share, all.Gaps[i].Share)
	}

	nan := ComputeClassReport(events, "c1", WithGapThreshold(math.NaN()))
	assert.Equal(t, DefaultGapThreshold, nan.GapThreshold)
}

func TestComputeClassReport_DoesNotMutateInput(t *testing.T) {
	events := []IstEventForReport{
		NewReportEvent("1", "c1", "2025-01-10T10:00:00Z", "  B ", "a"),
		NewReportEvent("2", "c1", "2025-01-03T10:00:00Z", "C"),
	}
	before, err := json.Marshal(events)
	require.NoError(t, err)

	_ = ComputeClassReport(events, "c1")

	after, err := json.Marshal(events)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestComputeClassReportSummary(t *testing.T) {
	events := []IstEventForReport{
		NewReportEvent("1", "c1", "2025-01-10T10:00:00Z", "arrays", "loops"),
	}

	s := ComputeClassReportSummary(events, "c1", WithClock(fixedClock), WithGapThreshold(0.6))

	assert.Equal(t, "c1", s.CourseID)
	assert.Equal(t, 1, s.TotalEvents)
	assert.Equal(t, 1, s.EventsWithSkills)
	assert.Equal(t, 2, s.UniqueSkillsCount)
	assert.Len(t, s.TopSkills, 2)
	assert.Len(t, s.Gaps, 2)
	assert.Equal(t, "2025-02-01T12:00:00.000Z", s.GeneratedAt)
}

// randomEvents builds a reproducible mix of well-formed and malformed events.
func randomEvents(rng *rand.Rand, n int) []IstEventForReport {
	pool := []any{"Arrays", "arrays ", "Loops", "RECURSION", "graphs", "  graphs", "!", "", 7, nil, "dp", "Trees", "heaps", "sorting", "hashing", "strings", "bits"}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	events := make([]IstEventForReport, 0, n)
	for i := 0; i < n; i++ {
		ev := IstEventForReport{ID: fmt.Sprint(i), CourseID: "c1"}
		if rng.Intn(10) > 0 {
			ev.CreatedAt = base.Add(time.Duration(rng.Intn(40*24)) * time.Hour).Format(time.RFC3339)
		}
		switch rng.Intn(8) {
		case 0:
		case 1:
			ev.HasSkills = true
		case 2:
			ev.Skills = "oops"
		default:
			k := rng.Intn(6)
			skills := make([]any, k)
			for j := range skills {
				skills[j] = pool[rng.Intn(len(pool))]
			}
			ev.Skills = skills
		}
		events = append(events, ev)
	}
	return events
}

func TestComputeClassReport_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		events := randomEvents(rng, rng.Intn(80))
		r := ComputeClassReport(events, "c1", WithMaxSkills(100), WithGapThreshold(2))

		// Count conservation: assignments equal the sum of per-event unique skill sets.
		want := 0
		for _, ev := range events {
			_, raw := classifySkills(ev)
			set := map[string]bool{}
			for _, e := range raw {
				if k, ok := NormalizeSkill(e); ok {
					set[k] = true
				}
			}
			want += len(set)
		}
		assert.Equal(t, want, r.TotalSkillAssignments)

		// Share normalization.
		sum, counts := 0.0, 0
		for _, s := range r.Gaps {
			sum += s.Share
			counts += s.Count
		}
		assert.Equal(t, r.UniqueSkillsCount, r.GapsCount)
		assert.Equal(t, r.TotalSkillAssignments, counts)
		if r.TotalSkillAssignments > 0 {
			assert.InDelta(t, 1.0, sum, 1e-9)
		} else {
			assert.Zero(t, sum)
		}

		// Coverage monotonicity.
		c := r.Coverage
		assert.LessOrEqual(t, c.Top1Share, c.Top5Share+1e-12)
		assert.LessOrEqual(t, c.Top5Share, c.Top10Share+1e-12)
		assert.LessOrEqual(t, c.Top10Share, 1+1e-9)
		assert.InDelta(t, max(0, min(1, 1-c.Top10Share)), c.LongTailShare, 1e-12)
		assert.GreaterOrEqual(t, c.LongTailShare, 0.0)

		// Everything stays finite and encodable.
		_, err := json.Marshal(r)
		require.NoError(t, err)
	}
}
