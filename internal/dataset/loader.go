// Package dataset moves IST report data in and out of files: JSON event
// dumps, xlsx event sheets and xlsx report workbooks.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"ist-insights-go/internal/aggregator"
)

const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// LoadEvents reads report events from a JSON array or the first sheet of an
// xlsx workbook, chosen by file extension.
func LoadEvents(path string) ([]aggregator.IstEventForReport, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return loadSheet(path)
	default:
		return loadJSON(path)
	}
}

func loadJSON(path string) ([]aggregator.IstEventForReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	var events []aggregator.IstEventForReport
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

type columns struct {
	id, course, created, skills int
}

// detectColumns matches header cells by name; unmatched columns stay -1.
func detectColumns(header []string) columns {
	cols := columns{id: -1, course: -1, created: -1, skills: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "course"):
			if cols.course == -1 {
				cols.course = i
			}
		case strings.Contains(l, "created") || strings.Contains(l, "date") || strings.Contains(l, "time"):
			if cols.created == -1 {
				cols.created = i
			}
		case strings.Contains(l, "skill"):
			if cols.skills == -1 {
				cols.skills = i
			}
		case l == "id" || strings.HasSuffix(l, " id") || l == "event":
			if cols.id == -1 {
				cols.id = i
			}
		}
	}
	return cols
}

func loadSheet(path string) ([]aggregator.IstEventForReport, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no header row")
	}

	cols := detectColumns(rows[0])
	if cols.course == -1 || cols.skills == -1 {
		return nil, fmt.Errorf("header must name a course and a skills column")
	}

	cell := func(r []string, idx int) string {
		if idx < 0 || idx >= len(r) {
			return ""
		}
		return strings.TrimSpace(r[idx])
	}

	out := make([]aggregator.IstEventForReport, 0, len(rows)-1)
	for i, r := range rows[1:] {
		if len(strings.Join(r, "")) == 0 {
			continue
		}
		ev := aggregator.IstEventForReport{
			ID:        cell(r, cols.id),
			CourseID:  cell(r, cols.course),
			CreatedAt: createdAtCell(cell(r, cols.created)),
		}
		if ev.ID == "" {
			ev.ID = strconv.Itoa(i + 1)
		}
		if raw := cell(r, cols.skills); raw != "" {
			ev.Skills = parseSkillsCell(raw)
			ev.HasSkills = true
		}
		out = append(out, ev)
	}
	return out, nil
}

// createdAtCell turns an Excel date serial into ISO text; anything else is
// passed through for the report to parse. Integers of up to four digits are
// years, not serials.
func createdAtCell(raw string) string {
	if isYear(raw) {
		return raw
	}
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return raw
	}
	return t.UTC().Round(time.Millisecond).Format(isoLayout)
}

func isYear(raw string) bool {
	if raw == "" || len(raw) > 4 {
		return false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseSkillsCell reads a JSON value ("[...]" or "null") or a comma
// separated list. Empty list items are skipped. Malformed JSON is kept as
// the raw string so the report counts it as not-an-array.
func parseSkillsCell(raw string) any {
	if strings.HasPrefix(raw, "[") || raw == "null" {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return raw
		}
		return v
	}
	parts := strings.Split(raw, ",")
	skills := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			skills = append(skills, p)
		}
	}
	return skills
}
