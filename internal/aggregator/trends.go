package aggregator

import (
	"cmp"
	"slices"
)

// TrendWindow covers seven UTC calendar days. Start and End are the
// start-of-day instants of the first and last day, or nil when no event
// carried a parsable date.
type TrendWindow struct {
	Start            *string `json:"start"`
	End              *string `json:"end"`
	Events           int     `json:"events"`
	SkillAssignments int     `json:"skillAssignments"`
}

type TrendDelta struct {
	EventsDiff                int     `json:"eventsDiff"`
	SkillAssignmentsDiff      int     `json:"skillAssignmentsDiff"`
	EventsPctChange           float64 `json:"eventsPctChange"`
	SkillAssignmentsPctChange float64 `json:"skillAssignmentsPctChange"`
}

type SkillTrend struct {
	Skill      string `json:"skill"`
	Last7Count int    `json:"last7Count"`
	Prev7Count int    `json:"prev7Count"`
	Diff       int    `json:"diff"`
}

type Trends struct {
	Last7Days       TrendWindow  `json:"last7Days"`
	Prev7Days       TrendWindow  `json:"prev7Days"`
	Delta           TrendDelta   `json:"delta"`
	RisingSkills    []SkillTrend `json:"risingSkills"`
	DecliningSkills []SkillTrend `json:"decliningSkills"`
}

// windowRange is an inclusive range of UTC day indices.
type windowRange struct {
	from, to int64
}

func (w windowRange) contains(day int64) bool {
	return day >= w.from && day <= w.to
}

// trendWindows returns the last-7 and previous-7 ranges anchored at baseDay.
// The two ranges are adjacent and never overlap.
func trendWindows(baseDay int64) (last7, prev7 windowRange) {
	return windowRange{from: baseDay - 6, to: baseDay}, windowRange{from: baseDay - 13, to: baseDay - 7}
}

func emptyTrends() Trends {
	return Trends{
		RisingSkills:    []SkillTrend{},
		DecliningSkills: []SkillTrend{},
	}
}

func computeTrends(events []processedEvent, baseDay int64) Trends {
	lastRange, prevRange := trendWindows(baseDay)
	last := windowOf(lastRange)
	prev := windowOf(prevRange)

	type pair struct{ last7, prev7 int }
	perSkill := map[string]*pair{}
	bump := func(skill string, inLast bool) {
		p, ok := perSkill[skill]
		if !ok {
			p = &pair{}
			perSkill[skill] = p
		}
		if inLast {
			p.last7++
		} else {
			p.prev7++
		}
	}

	for _, ev := range events {
		if !ev.dated {
			continue
		}
		switch {
		case lastRange.contains(ev.dayIndex):
			last.Events++
			last.SkillAssignments += len(ev.skills)
			for _, s := range ev.skills {
				bump(s, true)
			}
		case prevRange.contains(ev.dayIndex):
			prev.Events++
			prev.SkillAssignments += len(ev.skills)
			for _, s := range ev.skills {
				bump(s, false)
			}
		}
	}

	eventsDiff := last.Events - prev.Events
	assignmentsDiff := last.SkillAssignments - prev.SkillAssignments

	rising := []SkillTrend{}
	declining := []SkillTrend{}
	for skill, p := range perSkill {
		switch {
		case p.last7 > p.prev7:
			rising = append(rising, SkillTrend{Skill: skill, Last7Count: p.last7, Prev7Count: p.prev7, Diff: p.last7 - p.prev7})
		case p.prev7 > p.last7:
			declining = append(declining, SkillTrend{Skill: skill, Last7Count: p.last7, Prev7Count: p.prev7, Diff: p.prev7 - p.last7})
		}
	}

	return Trends{
		Last7Days: last,
		Prev7Days: prev,
		Delta: TrendDelta{
			EventsDiff:                eventsDiff,
			SkillAssignmentsDiff:      assignmentsDiff,
			EventsPctChange:           ratio(eventsDiff, prev.Events),
			SkillAssignmentsPctChange: ratio(assignmentsDiff, prev.SkillAssignments),
		},
		RisingSkills:    topTrends(rising),
		DecliningSkills: topTrends(declining),
	}
}

func windowOf(r windowRange) TrendWindow {
	start, end := formatISO(dayStart(r.from)), formatISO(dayStart(r.to))
	return TrendWindow{Start: &start, End: &end}
}

// topTrends sorts by diff desc, then skill asc, and keeps the first five.
func topTrends(ts []SkillTrend) []SkillTrend {
	slices.SortFunc(ts, func(a, b SkillTrend) int {
		if c := cmp.Compare(b.Diff, a.Diff); c != 0 {
			return c
		}
		return cmp.Compare(a.Skill, b.Skill)
	})
	return ts[:min(trendListLimit, len(ts))]
}
