// Package processor turns one student chat message into an IST extraction,
// using the student's recent IST events as context, and stores the result.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ist-insights-go/internal/extractor"
	"ist-insights-go/internal/logger"
	"ist-insights-go/internal/metrics"
	"ist-insights-go/internal/store"
	"ist-insights-go/internal/types"
)

var ErrInvalidRequest = errors.New("invalid analyze request")

// AnalyzeRequest is the body of POST /api/analyze-message.
type AnalyzeRequest struct {
	UserID         string                `json:"userId"`
	CourseID       string                `json:"courseId"`
	Utterance      string                `json:"utterance" validate:"max=8000"`
	CourseContext  *string               `json:"courseContext"`
	ChatHistory    []types.ChatMessage   `json:"chatHistory" validate:"omitempty,dive"`
	StudentProfile *types.StudentProfile `json:"studentProfile"`
}

// AnalyzeResult is returned by /api/analyze-message. IST is nil when the
// utterance was blank.
type AnalyzeResult struct {
	IST         *types.ISTResult `json:"ist"`
	EventID     string           `json:"eventId,omitempty"`
	Stored      bool             `json:"stored"`
	HistoryUsed int              `json:"historyUsed"`
	DurationMs  int64            `json:"durationMs"`
	Error       string           `json:"error,omitempty"`
}

type Extractor interface {
	Extract(ctx context.Context, req extractor.ExtractRequest) (types.ISTResult, error)
}

// EventStore is the part of store.Repository the processor needs.
type EventStore interface {
	Save(ctx context.Context, in types.CreateIstEventInput) (types.IstEvent, error)
	RecentEvents(ctx context.Context, p store.RecentParams) ([]types.IstEvent, error)
}

type Processor struct {
	extract      Extractor
	events       EventStore
	metrics      *metrics.Manager
	log          *logger.Logger
	historyLimit int
	validate     *validator.Validate
}

type Option func(*Processor)

func WithMetrics(m *metrics.Manager) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l.Component("processor")
		}
	}
}

// WithHistoryLimit bounds the recent IST events sent as context; zero
// disables history lookups.
func WithHistoryLimit(n int) Option {
	return func(p *Processor) { p.historyLimit = max(n, 0) }
}

// New builds a Processor. events may be nil, in which case nothing is stored
// and no history is sent.
func New(ext Extractor, events EventStore, opts ...Option) *Processor {
	p := &Processor{
		extract:      ext,
		events:       events,
		log:          logger.New().Component("processor"),
		historyLimit: 5,
		validate:     validator.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AnalyzeMessage extracts the IST for one utterance. Storage is best-effort:
// a failed save is logged and reported through Stored=false.
func (p *Processor) AnalyzeMessage(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	start := time.Now()
	var res AnalyzeResult

	if err := p.validate.Struct(req); err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		res.DurationMs = time.Since(start).Milliseconds()
		return res, nil
	}

	log := p.log.WithField("user_id", req.UserID).WithField("course_id", req.CourseID)

	history := p.recentHistory(ctx, req)
	res.HistoryUsed = len(history)

	extractStart := time.Now()
	ist, err := p.extract.Extract(ctx, extractor.ExtractRequest{
		Utterance:      utterance,
		CourseContext:  req.CourseContext,
		ChatHistory:    req.ChatHistory,
		ISTHistory:     history,
		StudentProfile: req.StudentProfile,
	})
	p.metrics.ObserveExtraction(err, time.Since(extractStart))
	if err != nil {
		log.WithError(err).Error("ist extraction failed")
		res.Error = fmt.Sprintf("ist extraction error: %v", err)
		res.DurationMs = time.Since(start).Milliseconds()
		return res, err
	}
	res.IST = &ist

	if p.events != nil {
		saved, err := p.events.Save(ctx, types.CreateIstEventInput{
			UserID:        types.StrPtr(req.UserID),
			CourseID:      types.StrPtr(req.CourseID),
			Utterance:     utterance,
			CourseContext: req.CourseContext,
			Intent:        ist.Intent,
			Skills:        ist.Skills,
			Trajectory:    ist.Trajectory,
		})
		p.metrics.ObserveStore(err)
		if err != nil {
			log.WithError(err).Warn("failed to store ist event")
		} else {
			res.EventID = saved.ID
			res.Stored = true
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	log.WithField("skills", ist.Skills).WithField("duration_ms", res.DurationMs).Info("analyzed message")
	return res, nil
}

func (p *Processor) recentHistory(ctx context.Context, req AnalyzeRequest) []types.IstEvent {
	if p.events == nil || p.historyLimit == 0 || req.UserID == "" {
		return nil
	}
	events, err := p.events.RecentEvents(ctx, store.RecentParams{
		UserID:   req.UserID,
		CourseID: types.StrPtr(req.CourseID),
		Limit:    p.historyLimit,
	})
	if err != nil {
		p.log.WithError(err).Warn("failed to load ist history")
		return nil
	}
	return events
}
