// Package pipeline serves class reports: it loads a course's IST events,
// computes the report (or reuses a cached one) and attaches action cards.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"ist-insights-go/internal/actionable"
	"ist-insights-go/internal/aggregator"
	"ist-insights-go/internal/cache"
	"ist-insights-go/internal/logger"
	"ist-insights-go/internal/metrics"
)

var ErrInvalidRequest = errors.New("invalid report request")

// EventSource supplies a course's events in report form.
type EventSource interface {
	ReportEvents(ctx context.Context, courseID string) ([]aggregator.IstEventForReport, error)
}

// ReportRequest selects a course. Nil options fall back to the service
// defaults.
type ReportRequest struct {
	CourseID     string   `validate:"required,max=256"`
	MaxSkills    *int     `validate:"omitempty,gte=0,lte=1000"`
	GapThreshold *float64 `validate:"omitempty,gte=0,lte=1"`
}

type ReportResult struct {
	Report  aggregator.ClassReport  `json:"report"`
	Actions []actionable.ActionCard `json:"actions"`
	Cached  bool                    `json:"cached"`
}

type Service struct {
	events       EventSource
	cache        *cache.ReportCache
	metrics      *metrics.Manager
	log          *logger.Logger
	validate     *validator.Validate
	maxSkills    int
	gapThreshold float64
	now          func() time.Time
}

type Option func(*Service)

func WithCache(c *cache.ReportCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l.Component("report")
		}
	}
}

// WithDefaults sets the options used when a request leaves them unset.
func WithDefaults(maxSkills int, gapThreshold float64) Option {
	return func(s *Service) {
		s.maxSkills = maxSkills
		s.gapThreshold = gapThreshold
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(events EventSource, opts ...Option) *Service {
	s := &Service{
		events:       events,
		log:          logger.New().Component("report"),
		validate:     validator.New(),
		maxSkills:    aggregator.DefaultMaxSkills,
		gapThreshold: aggregator.DefaultGapThreshold,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ClassReport(ctx context.Context, req ReportRequest) (ReportResult, error) {
	start := time.Now()

	if err := s.validate.Struct(req); err != nil {
		return ReportResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	maxSkills, gapThreshold := s.maxSkills, s.gapThreshold
	if req.MaxSkills != nil {
		maxSkills = *req.MaxSkills
	}
	if req.GapThreshold != nil {
		gapThreshold = *req.GapThreshold
	}

	log := s.log.WithField("course_id", req.CourseID)

	events, err := s.events.ReportEvents(ctx, req.CourseID)
	if err != nil {
		log.WithError(err).Error("failed to load ist events")
		return ReportResult{}, fmt.Errorf("load events for course %s: %w", req.CourseID, err)
	}

	key, err := cache.Key(req.CourseID, events, maxSkills, gapThreshold)
	if err != nil {
		// unhashable input only costs the cache
		log.WithError(err).Warn("report cache key failed")
	} else if report, ok := s.cache.Get(key); ok {
		s.metrics.ObserveCache(true)
		s.metrics.ObserveReport(req.CourseID, len(events), true, time.Since(start))
		log.Debug("class report served from cache")
		return ReportResult{Report: report, Actions: actionable.Generate(report), Cached: true}, nil
	} else if s.cache != nil {
		s.metrics.ObserveCache(false)
	}

	report := aggregator.ComputeClassReport(events, req.CourseID,
		aggregator.WithMaxSkills(maxSkills),
		aggregator.WithGapThreshold(gapThreshold),
		aggregator.WithClock(s.now),
	)
	if key != "" {
		s.cache.Put(key, report)
	}

	s.metrics.ObserveReport(req.CourseID, len(events), false, time.Since(start))
	log.WithField("total_events", report.TotalEvents).
		WithField("unique_skills", report.UniqueSkillsCount).
		Info("computed class report")

	return ReportResult{Report: report, Actions: actionable.Generate(report)}, nil
}
