package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ist-insights-go/internal/aggregator"
	"ist-insights-go/internal/cache"
	"ist-insights-go/internal/logger"
	"ist-insights-go/internal/metrics"
)

type fakeSource struct {
	events []aggregator.IstEventForReport
	err    error
	calls  int
}

func (f *fakeSource) ReportEvents(_ context.Context, courseID string) ([]aggregator.IstEventForReport, error) {
	f.calls++
	return f.events, f.err
}

var fixedNow = time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

func newTestService(src EventSource, opts ...Option) *Service {
	opts = append([]Option{
		WithLogger(logger.Discard()),
		WithMetrics(metrics.NewManager()),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return NewService(src, opts...)
}

func sampleEvents() []aggregator.IstEventForReport {
	return []aggregator.IstEventForReport{
		aggregator.NewReportEvent("1", "c1", "2025-01-14T10:00:00Z", "Recursion", "loops"),
		aggregator.NewReportEvent("2", "c1", "2025-01-13T10:00:00Z", "recursion"),
		aggregator.NewReportEvent("3", "c1", "2025-01-12T10:00:00Z", "big-o"),
	}
}

func intPtr(n int) *int { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestClassReport_Computes(t *testing.T) {
	svc := newTestService(&fakeSource{events: sampleEvents()})

	res, err := svc.ClassReport(context.Background(), ReportRequest{CourseID: "c1"})
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, 3, res.Report.TotalEvents)
	assert.Equal(t, "recursion", res.Report.TopSkills[0].Skill)
	assert.Equal(t, aggregator.DefaultGapThreshold, res.Report.GapThreshold)
	assert.Equal(t, "2025-01-15T08:00:00.000Z", res.Report.GeneratedAt)
	assert.NotEmpty(t, res.Actions)
}

func TestClassReport_RequestOptions(t *testing.T) {
	svc := newTestService(&fakeSource{events: sampleEvents()}, WithDefaults(1, 0.5))

	res, err := svc.ClassReport(context.Background(), ReportRequest{CourseID: "c1"})
	require.NoError(t, err)
	assert.Len(t, res.Report.TopSkills, 1)
	assert.Equal(t, 0.5, res.Report.GapThreshold)

	res, err = svc.ClassReport(context.Background(), ReportRequest{CourseID: "c1", MaxSkills: intPtr(0), GapThreshold: floatPtr(0)})
	require.NoError(t, err)
	assert.Empty(t, res.Report.TopSkills)
	assert.NotNil(t, res.Report.TopSkills)
	assert.Zero(t, res.Report.GapsCount)
}

func TestClassReport_Validation(t *testing.T) {
	src := &fakeSource{}
	svc := newTestService(src)

	for _, req := range []ReportRequest{
		{},
		{CourseID: "c1", MaxSkills: intPtr(-1)},
		{CourseID: "c1", GapThreshold: floatPtr(1.5)},
	} {
		_, err := svc.ClassReport(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	assert.Zero(t, src.calls)
}

func TestClassReport_SourceError(t *testing.T) {
	svc := newTestService(&fakeSource{err: errors.New("db down")})
	_, err := svc.ClassReport(context.Background(), ReportRequest{CourseID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestClassReport_Cache(t *testing.T) {
	src := &fakeSource{events: sampleEvents()}
	svc := newTestService(src, WithCache(cache.New(time.Minute, 4)))

	first, err := svc.ClassReport(context.Background(), ReportRequest{CourseID: "c1"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.ClassReport(context.Background(), ReportRequest{CourseID: "c1"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Report, second.Report)
	assert.Equal(t, first.Actions, second.Actions)

	// different options miss
	third, err := svc.ClassReport(context.Background(), ReportRequest{CourseID: "c1", MaxSkills: intPtr(2)})
	require.NoError(t, err)
	assert.False(t, third.Cached)

	// new data misses
	src.events = append(src.events, aggregator.NewReportEvent("4", "c1", "2025-01-14T11:00:00Z", "loops"))
	fourth, err := svc.ClassReport(context.Background(), ReportRequest{CourseID: "c1"})
	require.NoError(t, err)
	assert.False(t, fourth.Cached)
	assert.Equal(t, 4, fourth.Report.TotalEvents)
}
