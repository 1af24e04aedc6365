package dataset

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"ist-insights-go/internal/aggregator"
)

const (
	SheetSummary     = "Summary"
	SheetTopSkills   = "Top Skills"
	SheetGaps        = "Gaps"
	SheetTrends      = "Trends"
	SheetDataQuality = "Data Quality"
)

// trendSkillsRow is where the rising/declining table starts on the Trends
// sheet, below the two window rows and a spacer.
const trendSkillsRow = 5

// ExportReport writes a class report as an xlsx workbook.
func ExportReport(r aggregator.ClassReport, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetTopSkills, SheetGaps, SheetTrends, SheetDataQuality} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	w := &sheetWriter{f: f, bold: bold}
	w.table(SheetSummary, []any{"Metric", "Value"}, [][]any{
		{"Course", r.CourseID},
		{"Total events", r.TotalEvents},
		{"Events with skills", r.EventsWithSkills},
		{"Unique skills", r.UniqueSkillsCount},
		{"Total skill assignments", r.TotalSkillAssignments},
		{"Avg skills per event", r.AvgSkillsPerEvent},
		{"Avg skills per skilled event", r.AvgSkillsPerSkilledEvent},
		{"First event", strOrEmpty(r.FirstEventAt)},
		{"Last event", strOrEmpty(r.LastEventAt)},
		{"Top-1 share", r.Coverage.Top1Share},
		{"Top-5 share", r.Coverage.Top5Share},
		{"Top-10 share", r.Coverage.Top10Share},
		{"Long-tail share", r.Coverage.LongTailShare},
		{"Gap threshold", r.GapThreshold},
		{"Gaps", r.GapsCount},
		{"Generated at", r.GeneratedAt},
	})
	w.table(SheetTopSkills, []any{"Skill", "Count", "Share"}, statRows(r.TopSkills))
	w.table(SheetGaps, []any{"Skill", "Count", "Share"}, statRows(r.Gaps))

	tr := r.Trends
	w.table(SheetTrends, []any{"Window", "Start", "End", "Events", "Skill assignments"}, [][]any{
		{"Last 7 days", strOrEmpty(tr.Last7Days.Start), strOrEmpty(tr.Last7Days.End), tr.Last7Days.Events, tr.Last7Days.SkillAssignments},
		{"Previous 7 days", strOrEmpty(tr.Prev7Days.Start), strOrEmpty(tr.Prev7Days.End), tr.Prev7Days.Events, tr.Prev7Days.SkillAssignments},
	})
	var skillRows [][]any
	for _, s := range tr.RisingSkills {
		skillRows = append(skillRows, []any{"rising", s.Skill, s.Last7Count, s.Prev7Count, s.Diff})
	}
	for _, s := range tr.DecliningSkills {
		skillRows = append(skillRows, []any{"declining", s.Skill, s.Last7Count, s.Prev7Count, s.Diff})
	}
	w.tableAt(SheetTrends, trendSkillsRow, []any{"Direction", "Skill", "Last 7 days", "Previous 7 days", "Diff"}, skillRows)

	dq := r.DataQuality
	w.table(SheetDataQuality, []any{"Check", "Events"}, [][]any{
		{"Missing skills field", dq.EventsMissingSkillsField},
		{"Skills not an array", dq.EventsSkillsNotArray},
		{"Empty skills array", dq.EventsEmptySkillsArray},
		{"Invalid skill entries dropped", dq.InvalidSkillEntriesDropped},
	})
	if w.err != nil {
		return w.err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// sheetWriter keeps the first error so table calls can be chained.
type sheetWriter struct {
	f    *excelize.File
	bold int
	err  error
}

func (w *sheetWriter) table(sheet string, header []any, rows [][]any) {
	w.tableAt(sheet, 1, header, rows)
}

func (w *sheetWriter) tableAt(sheet string, startRow int, header []any, rows [][]any) {
	if w.err != nil {
		return
	}
	start, _ := excelize.CoordinatesToCellName(1, startRow)
	end, _ := excelize.CoordinatesToCellName(len(header), startRow)
	if err := w.f.SetSheetRow(sheet, start, &header); err != nil {
		w.err = fmt.Errorf("write %s header: %w", sheet, err)
		return
	}
	if err := w.f.SetCellStyle(sheet, start, end, w.bold); err != nil {
		w.err = fmt.Errorf("style %s header: %w", sheet, err)
		return
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, startRow+1+i)
		if err := w.f.SetSheetRow(sheet, cell, &row); err != nil {
			w.err = fmt.Errorf("write %s row %d: %w", sheet, startRow+1+i, err)
			return
		}
	}
}

func statRows(stats []aggregator.SkillStat) [][]any {
	rows := make([][]any, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []any{s.Skill, s.Count, s.Share})
	}
	return rows
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
