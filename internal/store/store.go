// Package store persists IST events. Three backends share one Repository
// contract: a JSON file, an embedded SQLite database and PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"ist-insights-go/internal/aggregator"
	"ist-insights-go/internal/config"
	"ist-insights-go/internal/types"
)

var ErrNotFound = errors.New("ist event not found")

const defaultRecentLimit = 10

// RecentParams selects a user's most recent events. A nil CourseID spans all
// courses.
type RecentParams struct {
	UserID   string
	CourseID *string
	Limit    int
}

type Repository interface {
	Save(ctx context.Context, in types.CreateIstEventInput) (types.IstEvent, error)
	FindByID(ctx context.Context, id string) (types.IstEvent, error)
	FindByCourse(ctx context.Context, courseID string) ([]types.IstEvent, error)
	FindByUser(ctx context.Context, userID string) ([]types.IstEvent, error)
	FindByUserAndCourse(ctx context.Context, userID, courseID string) ([]types.IstEvent, error)
	RecentEvents(ctx context.Context, p RecentParams) ([]types.IstEvent, error)
	// ReportEvents returns the course's events as untyped report records,
	// keeping whatever shape the stored skills value has.
	ReportEvents(ctx context.Context, courseID string) ([]aggregator.IstEventForReport, error)
	Close() error
}

// Open builds the repository selected by cfg.StorageMode.
func Open(ctx context.Context, cfg *config.Config) (Repository, error) {
	switch cfg.StorageMode {
	case config.StorageJSON, "":
		return NewJSONRepository(cfg.EventsFile), nil
	case config.StorageSQLite:
		return NewSQLiteRepository(cfg.SQLitePath)
	case config.StoragePostgres:
		return ConnectPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func nowISO() string {
	return formatTime(time.Now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// newEvent stamps an input with its generated fields. Nil lists are stored as
// empty arrays so a saved event never looks like it lacks a skills field.
func newEvent(id, createdAt string, in types.CreateIstEventInput) types.IstEvent {
	in = withLists(in)
	return types.IstEvent{
		ID:            id,
		CreatedAt:     createdAt,
		UserID:        in.UserID,
		CourseID:      in.CourseID,
		Utterance:     in.Utterance,
		CourseContext: in.CourseContext,
		Intent:        in.Intent,
		Skills:        in.Skills,
		Trajectory:    in.Trajectory,
	}
}

// sortNewestFirst orders by createdAt descending; unparsable dates sink.
func sortNewestFirst(events []types.IstEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return parseTime(events[i].CreatedAt).After(parseTime(events[j].CreatedAt))
	})
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultRecentLimit
	}
	return n
}

// reportEventFromColumns rebuilds a report record from stored columns. A
// NULL skills column means the field was never written.
func reportEventFromColumns(id, courseID, createdAt string, skills []byte) aggregator.IstEventForReport {
	ev := aggregator.IstEventForReport{ID: id, CourseID: courseID, CreatedAt: createdAt}
	if skills == nil {
		return ev
	}
	ev.HasSkills = true
	var v any
	if err := json.Unmarshal(skills, &v); err != nil {
		// Not JSON at all: keep the raw text so it is reported as not-an-array.
		v = string(skills)
	}
	ev.Skills = v
	return ev
}

func withLists(in types.CreateIstEventInput) types.CreateIstEventInput {
	if in.Skills == nil {
		in.Skills = []string{}
	}
	if in.Trajectory == nil {
		in.Trajectory = []string{}
	}
	return in
}

func marshalList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

func unmarshalList(raw []byte) []string {
	if raw == nil {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
