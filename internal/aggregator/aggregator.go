// Package aggregator computes instructor-facing IST class reports from raw
// per-message extraction events. Everything here is pure: no I/O, no
// logging, no retained state. Malformed input is surfaced through the
// report's data-quality counters instead of errors.
package aggregator

import (
	"cmp"
	"slices"
	"time"
)

// SkillStat is one skill's frequency. Share is a fraction of all skill
// assignments, not of events.
type SkillStat struct {
	Skill string  `json:"skill"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

type Coverage struct {
	Top1Share     float64 `json:"top1Share"`
	Top5Share     float64 `json:"top5Share"`
	Top10Share    float64 `json:"top10Share"`
	LongTailShare float64 `json:"longTailShare"`
}

type DataQuality struct {
	EventsMissingSkillsField   int `json:"eventsMissingSkillsField"`
	EventsSkillsNotArray       int `json:"eventsSkillsNotArray"`
	EventsEmptySkillsArray     int `json:"eventsEmptySkillsArray"`
	InvalidSkillEntriesDropped int `json:"invalidSkillEntriesDropped"`
}

// ClassReport is the full report for one course.
type ClassReport struct {
	CourseID                 string  `json:"courseId"`
	TotalEvents              int     `json:"totalEvents"`
	EventsWithSkills         int     `json:"eventsWithSkills"`
	UniqueSkillsCount        int     `json:"uniqueSkillsCount"`
	TotalSkillAssignments    int     `json:"totalSkillAssignments"`
	AvgSkillsPerEvent        float64 `json:"avgSkillsPerEvent"`
	AvgSkillsPerSkilledEvent float64 `json:"avgSkillsPerSkilledEvent"`
	FirstEventAt             *string `json:"firstEventAt"`
	LastEventAt              *string `json:"lastEventAt"`

	TopSkills []SkillStat `json:"topSkills"`
	Coverage  Coverage    `json:"coverage"`

	GapThreshold float64     `json:"gapThreshold"`
	Gaps         []SkillStat `json:"gaps"`
	GapsCount    int         `json:"gapsCount"`

	Trends      Trends      `json:"trends"`
	DataQuality DataQuality `json:"dataQuality"`

	GeneratedAt string `json:"generatedAt"`
}

// ClassReportSummary is the reduced report shape kept for older consumers.
type ClassReportSummary struct {
	CourseID          string      `json:"courseId"`
	TotalEvents       int         `json:"totalEvents"`
	EventsWithSkills  int         `json:"eventsWithSkills"`
	UniqueSkillsCount int         `json:"uniqueSkillsCount"`
	TopSkills         []SkillStat `json:"topSkills"`
	Gaps              []SkillStat `json:"gaps"`
	GeneratedAt       string      `json:"generatedAt"`
}

// processedEvent is one course event after skill normalization.
type processedEvent struct {
	dayIndex int64
	dated    bool
	skills   []string
}

// tally is the state accumulated by the single preprocessing pass.
type tally struct {
	freq             map[string]int
	events           []processedEvent
	eventsWithSkills int
	quality          DataQuality
	first, last      time.Time
	dated            bool
}

// ComputeClassReport builds the class report for courseID. Events belonging
// to other courses are ignored. The input slice is not modified.
func ComputeClassReport(events []IstEventForReport, courseID string, opts ...Option) ClassReport {
	o := newOptions(opts...)

	t := preprocess(events, courseID)
	totalEvents := len(t.events)

	stats := skillStats(t.freq)
	total := 0
	for _, s := range stats {
		total += s.Count
	}

	r := ClassReport{
		CourseID:                 courseID,
		TotalEvents:              totalEvents,
		EventsWithSkills:         t.eventsWithSkills,
		UniqueSkillsCount:        len(t.freq),
		TotalSkillAssignments:    total,
		AvgSkillsPerEvent:        ratio(total, totalEvents),
		AvgSkillsPerSkilledEvent: ratio(total, t.eventsWithSkills),
		TopSkills:                stats[:min(o.maxSkills, len(stats))],
		Coverage:                 coverage(stats),
		GapThreshold:             o.gapThreshold,
		Gaps:                     gaps(stats, o.gapThreshold),
		DataQuality:              t.quality,
		GeneratedAt:              formatISO(o.now()),
	}
	r.GapsCount = len(r.Gaps)
	if t.dated {
		first, last := formatISO(t.first), formatISO(t.last)
		r.FirstEventAt, r.LastEventAt = &first, &last
		r.Trends = computeTrends(t.events, utcDayIndex(t.last))
	} else {
		r.Trends = emptyTrends()
	}
	return r
}

// ComputeClassReportSummary returns the reduced report.
func ComputeClassReportSummary(events []IstEventForReport, courseID string, opts ...Option) ClassReportSummary {
	return ComputeClassReport(events, courseID, opts...).Summary()
}

// Summary reduces a full report to the fields of ClassReportSummary.
func (r ClassReport) Summary() ClassReportSummary {
	return ClassReportSummary{
		CourseID:          r.CourseID,
		TotalEvents:       r.TotalEvents,
		EventsWithSkills:  r.EventsWithSkills,
		UniqueSkillsCount: r.UniqueSkillsCount,
		TopSkills:         r.TopSkills,
		Gaps:              r.Gaps,
		GeneratedAt:       r.GeneratedAt,
	}
}

func preprocess(events []IstEventForReport, courseID string) tally {
	t := tally{freq: map[string]int{}}
	for _, ev := range events {
		if ev.CourseID != courseID {
			continue
		}

		pe := processedEvent{}
		if ts, ok := parseCreatedAt(ev.CreatedAt); ok {
			pe.dayIndex, pe.dated = utcDayIndex(ts), true
			if !t.dated || ts.Before(t.first) {
				t.first = ts
			}
			if !t.dated || ts.After(t.last) {
				t.last = ts
			}
			t.dated = true
		}

		shape, raw := classifySkills(ev)
		switch shape {
		case skillsMissing:
			t.quality.EventsMissingSkillsField++
		case skillsNotArray:
			t.quality.EventsSkillsNotArray++
		case skillsArray:
			if len(raw) == 0 {
				t.quality.EventsEmptySkillsArray++
			}
		}

		seen := make(map[string]struct{}, len(raw))
		for _, entry := range raw {
			key, ok := NormalizeSkill(entry)
			if !ok {
				t.quality.InvalidSkillEntriesDropped++
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			pe.skills = append(pe.skills, key)
		}

		if len(pe.skills) > 0 {
			t.eventsWithSkills++
			for _, skill := range pe.skills {
				t.freq[skill]++
			}
		}
		t.events = append(t.events, pe)
	}
	return t
}

// skillStats returns every skill sorted by count desc, then name asc.
func skillStats(freq map[string]int) []SkillStat {
	total := 0
	for _, c := range freq {
		total += c
	}
	stats := make([]SkillStat, 0, len(freq))
	for skill, count := range freq {
		stats = append(stats, SkillStat{Skill: skill, Count: count, Share: ratio(count, total)})
	}
	slices.SortFunc(stats, func(a, b SkillStat) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Skill, b.Skill)
	})
	return stats
}

// coverage expects stats sorted by count desc.
func coverage(stats []SkillStat) Coverage {
	var c Coverage
	for i, s := range stats {
		if i >= 10 {
			break
		}
		if i == 0 {
			c.Top1Share = s.Share
		}
		if i < 5 {
			c.Top5Share += s.Share
		}
		c.Top10Share += s.Share
	}
	c.LongTailShare = max(0, min(1, 1-c.Top10Share))
	return c
}

func gaps(stats []SkillStat, threshold float64) []SkillStat {
	out := make([]SkillStat, 0)
	for _, s := range stats {
		if s.Share < threshold {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b SkillStat) int {
		if c := cmp.Compare(a.Share, b.Share); c != 0 {
			return c
		}
		return cmp.Compare(a.Skill, b.Skill)
	})
	return out
}

// ratio returns 0 instead of dividing by zero.
func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
