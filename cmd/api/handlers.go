package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ist-insights-go/internal/actionable"
	"ist-insights-go/internal/aggregator"
	"ist-insights-go/internal/extractor"
	"ist-insights-go/internal/logger"
	"ist-insights-go/internal/metrics"
	"ist-insights-go/internal/pipeline"
	"ist-insights-go/internal/processor"
)

// maxBodyBytes bounds the analyze-message request body.
const maxBodyBytes = 1 << 20

type reportService interface {
	ClassReport(ctx context.Context, req pipeline.ReportRequest) (pipeline.ReportResult, error)
}

type messageAnalyzer interface {
	AnalyzeMessage(ctx context.Context, req processor.AnalyzeRequest) (processor.AnalyzeResult, error)
}

type server struct {
	log      *logger.Logger
	reports  reportService
	analyzer messageAnalyzer
	metrics  *metrics.Manager
}

type summaryResult struct {
	Report  aggregator.ClassReportSummary `json:"report"`
	Actions []actionable.ActionCard       `json:"actions"`
	Cached  bool                          `json:"cached"`
}

type errorBody struct {
	Error string `json:"error"`
}

func newMux(s *server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", s.instrument("healthz", s.handleHealth))
	mux.Handle("POST /api/analyze-message", s.instrument("analyze_message", s.handleAnalyze))
	mux.Handle("GET /api/courses/{courseId}/ist-report", s.instrument("ist_report", s.handleReport))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.log.WithRequest(r).Debug("health check")
	fmt.Fprint(w, "ok")
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "analyze_message")

	var req processor.AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		reqLog.WithError(err).Warn("invalid request body")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	reqLog = reqLog.WithField("user_id", req.UserID).WithField("course_id", req.CourseID)

	res, err := s.analyzer.AnalyzeMessage(r.Context(), req)
	switch {
	case errors.Is(err, processor.ErrInvalidRequest):
		reqLog.WithError(err).Warn("rejected analyze request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, extractor.ErrNotConfigured):
		reqLog.WithError(err).Error("extraction unavailable")
		writeJSON(w, http.StatusServiceUnavailable, res)
	case err != nil:
		reqLog.WithError(err).Warn("analyze returned error")
		writeJSON(w, http.StatusBadGateway, res)
	default:
		reqLog.WithField("duration_ms", res.DurationMs).Info("analyze finished")
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("courseId")
	reqLog := s.log.WithRequest(r).WithField("handler", "ist_report").WithField("course_id", courseID)

	req, summary, err := parseReportQuery(courseID, r)
	if err != nil {
		reqLog.WithError(err).Warn("invalid report query")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	res, err := s.reports.ClassReport(r.Context(), req)
	if errors.Is(err, pipeline.ErrInvalidRequest) {
		reqLog.WithError(err).Warn("rejected report request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		reqLog.WithError(err).Error("report failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to compute report"})
		return
	}

	reqLog.WithField("cached", res.Cached).Info("report served")
	if summary {
		writeJSON(w, http.StatusOK, summaryResult{Report: res.Report.Summary(), Actions: res.Actions, Cached: res.Cached})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseReportQuery(courseID string, r *http.Request) (pipeline.ReportRequest, bool, error) {
	q := r.URL.Query()
	req := pipeline.ReportRequest{CourseID: courseID}

	if v := q.Get("maxSkills"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, false, errors.New("maxSkills must be an integer")
		}
		req.MaxSkills = &n
	}
	if v := q.Get("gapThreshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, false, errors.New("gapThreshold must be a number")
		}
		req.GapThreshold = &f
	}
	summary := false
	if v := q.Get("summary"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, false, errors.New("summary must be a boolean")
		}
		summary = b
	}
	return req, summary, nil
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *server) instrument(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.metrics.ObserveHTTP(name, rec.code)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
