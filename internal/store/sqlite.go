package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ist-insights-go/internal/aggregator"
	"ist-insights-go/internal/types"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteRepository stores events in an embedded SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("ist store: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ist store: open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ist store: pragma %q: %w", p, err)
		}
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ist store: migration: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ist_events (
			id             TEXT PRIMARY KEY,
			created_at     TEXT NOT NULL,
			user_id        TEXT,
			course_id      TEXT,
			utterance      TEXT NOT NULL,
			course_context TEXT,
			intent         TEXT NOT NULL DEFAULT '',
			skills         TEXT,
			trajectory     TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_ist_events_course ON ist_events(course_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_ist_events_user ON ist_events(user_id, created_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

const sqliteColumns = `id, created_at, user_id, course_id, utterance, course_context, intent, skills, trajectory`

func (r *SQLiteRepository) Save(ctx context.Context, in types.CreateIstEventInput) (types.IstEvent, error) {
	skills, err := marshalList(in.Skills)
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("encode skills: %w", err)
	}
	trajectory, err := marshalList(in.Trajectory)
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("encode trajectory: %w", err)
	}

	ev := newEvent(uuid.NewString(), nowISO(), in)
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO ist_events (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CreatedAt, ev.UserID, ev.CourseID, ev.Utterance, ev.CourseContext, ev.Intent,
		nullableText(skills), nullableText(trajectory),
	)
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("failed to insert ist event: %w", err)
	}
	return ev, nil
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (types.IstEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM ist_events WHERE id = ?`, id)
	ev, err := scanSQLiteEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.IstEvent{}, ErrNotFound
	}
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("failed to get ist event: %w", err)
	}
	return ev, nil
}

func (r *SQLiteRepository) FindByCourse(ctx context.Context, courseID string) ([]types.IstEvent, error) {
	return r.query(ctx, `WHERE course_id = ? ORDER BY created_at, id`, courseID)
}

func (r *SQLiteRepository) FindByUser(ctx context.Context, userID string) ([]types.IstEvent, error) {
	return r.query(ctx, `WHERE user_id = ? ORDER BY created_at, id`, userID)
}

func (r *SQLiteRepository) FindByUserAndCourse(ctx context.Context, userID, courseID string) ([]types.IstEvent, error) {
	return r.query(ctx, `WHERE user_id = ? AND course_id = ? ORDER BY created_at, id`, userID, courseID)
}

func (r *SQLiteRepository) RecentEvents(ctx context.Context, p RecentParams) ([]types.IstEvent, error) {
	var (
		where strings.Builder
		args  = []any{p.UserID}
	)
	where.WriteString(`WHERE user_id = ?`)
	if p.CourseID != nil {
		where.WriteString(` AND course_id = ?`)
		args = append(args, *p.CourseID)
	}
	where.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ?`)
	args = append(args, limitOrDefault(p.Limit))
	return r.query(ctx, where.String(), args...)
}

func (r *SQLiteRepository) ReportEvents(ctx context.Context, courseID string) ([]aggregator.IstEventForReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, course_id, created_at, skills FROM ist_events WHERE course_id = ? ORDER BY created_at, id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query report events: %w", err)
	}
	defer rows.Close()

	var out []aggregator.IstEventForReport
	for rows.Next() {
		var (
			id, course, createdAt string
			skills                sql.NullString
		)
		if err := rows.Scan(&id, &course, &createdAt, &skills); err != nil {
			return nil, fmt.Errorf("failed to scan report event: %w", err)
		}
		var raw []byte
		if skills.Valid {
			raw = []byte(skills.String)
		}
		out = append(out, reportEventFromColumns(id, course, createdAt, raw))
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) query(ctx context.Context, clause string, args ...any) ([]types.IstEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM ist_events `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ist events: %w", err)
	}
	defer rows.Close()

	var out []types.IstEvent
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ist event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(s rowScanner) (types.IstEvent, error) {
	var (
		ev                              types.IstEvent
		userID, courseID, courseContext sql.NullString
		skills, trajectory              sql.NullString
	)
	err := s.Scan(&ev.ID, &ev.CreatedAt, &userID, &courseID, &ev.Utterance, &courseContext, &ev.Intent, &skills, &trajectory)
	if err != nil {
		return types.IstEvent{}, err
	}
	ev.UserID = nullStringPtr(userID)
	ev.CourseID = nullStringPtr(courseID)
	ev.CourseContext = nullStringPtr(courseContext)
	if skills.Valid {
		ev.Skills = unmarshalList([]byte(skills.String))
	}
	if trajectory.Valid {
		ev.Trajectory = unmarshalList([]byte(trajectory.String))
	}
	return ev, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
