package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ist-insights-go/internal/aggregator"
	"ist-insights-go/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ist_events (
	id             UUID PRIMARY KEY,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	user_id        TEXT,
	course_id      TEXT,
	utterance      TEXT NOT NULL,
	course_context TEXT,
	intent         TEXT NOT NULL DEFAULT '',
	skills         JSONB,
	trajectory     JSONB
);
CREATE INDEX IF NOT EXISTS idx_ist_events_course ON ist_events (course_id, created_at);
CREATE INDEX IF NOT EXISTS idx_ist_events_user ON ist_events (user_id, created_at);
`

const postgresColumns = `id, created_at, user_id, course_id, utterance, course_context, intent, skills, trajectory`

// PostgresRepository stores events in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool, verifies it and ensures the schema exists.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Save(ctx context.Context, in types.CreateIstEventInput) (types.IstEvent, error) {
	skills, err := marshalList(in.Skills)
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("failed to marshal skills: %w", err)
	}
	trajectory, err := marshalList(in.Trajectory)
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("failed to marshal trajectory: %w", err)
	}

	id := uuid.New()
	var createdAt time.Time
	err = r.pool.QueryRow(ctx,
		`INSERT INTO ist_events (id, user_id, course_id, utterance, course_context, intent, skills, trajectory)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		id, in.UserID, in.CourseID, in.Utterance, in.CourseContext, in.Intent,
		nullableText(skills), nullableText(trajectory),
	).Scan(&createdAt)
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("failed to insert ist event: %w", err)
	}
	return newEvent(id.String(), formatTime(createdAt), in), nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (types.IstEvent, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return types.IstEvent{}, ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+postgresColumns+` FROM ist_events WHERE id = $1`, parsed)
	ev, err := scanPostgresEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.IstEvent{}, ErrNotFound
	}
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("failed to get ist event: %w", err)
	}
	return ev, nil
}

func (r *PostgresRepository) FindByCourse(ctx context.Context, courseID string) ([]types.IstEvent, error) {
	return r.query(ctx, `WHERE course_id = $1 ORDER BY created_at, id`, courseID)
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]types.IstEvent, error) {
	return r.query(ctx, `WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (r *PostgresRepository) FindByUserAndCourse(ctx context.Context, userID, courseID string) ([]types.IstEvent, error) {
	return r.query(ctx, `WHERE user_id = $1 AND course_id = $2 ORDER BY created_at, id`, userID, courseID)
}

func (r *PostgresRepository) RecentEvents(ctx context.Context, p RecentParams) ([]types.IstEvent, error) {
	limit := limitOrDefault(p.Limit)
	if p.CourseID == nil {
		return r.query(ctx, `WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, p.UserID, limit)
	}
	return r.query(ctx, `WHERE user_id = $1 AND course_id = $2 ORDER BY created_at DESC, id DESC LIMIT $3`,
		p.UserID, *p.CourseID, limit)
}

func (r *PostgresRepository) ReportEvents(ctx context.Context, courseID string) ([]aggregator.IstEventForReport, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, course_id, created_at, skills FROM ist_events WHERE course_id = $1 ORDER BY created_at, id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query report events: %w", err)
	}
	defer rows.Close()

	var out []aggregator.IstEventForReport
	for rows.Next() {
		var (
			id        uuid.UUID
			course    string
			createdAt time.Time
			skills    []byte
		)
		if err := rows.Scan(&id, &course, &createdAt, &skills); err != nil {
			return nil, fmt.Errorf("failed to scan report event: %w", err)
		}
		out = append(out, reportEventFromColumns(id.String(), course, formatTime(createdAt), skills))
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *PostgresRepository) query(ctx context.Context, clause string, args ...any) ([]types.IstEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+postgresColumns+` FROM ist_events `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ist events: %w", err)
	}
	defer rows.Close()

	var out []types.IstEvent
	for rows.Next() {
		ev, err := scanPostgresEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ist event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanPostgresEvent(row pgx.Row) (types.IstEvent, error) {
	var (
		ev                 types.IstEvent
		id                 uuid.UUID
		createdAt          time.Time
		skills, trajectory []byte
	)
	err := row.Scan(&id, &createdAt, &ev.UserID, &ev.CourseID, &ev.Utterance, &ev.CourseContext, &ev.Intent, &skills, &trajectory)
	if err != nil {
		return types.IstEvent{}, err
	}
	ev.ID = id.String()
	ev.CreatedAt = formatTime(createdAt)
	ev.Skills = unmarshalList(skills)
	ev.Trajectory = unmarshalList(trajectory)
	return ev, nil
}
