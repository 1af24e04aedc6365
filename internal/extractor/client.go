// Package extractor calls the IST extraction service for a single student
// utterance.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ist-insights-go/internal/logger"
	"ist-insights-go/internal/types"
)

const istPath = "/api/intent-skill-trajectory"

var (
	ErrEmptyUtterance = errors.New("utterance is empty")
	ErrNotConfigured  = errors.New("ist service url not configured")
)

type Config struct {
	BaseURL      string
	HTTPTimeout  time.Duration
	MaxRetryTime time.Duration
	Mock         bool
}

// ExtractRequest carries the utterance plus whatever context is known about
// the student.
type ExtractRequest struct {
	Utterance      string
	CourseContext  *string
	ChatHistory    []types.ChatMessage
	ISTHistory     []types.IstEvent
	StudentProfile *types.StudentProfile
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
	newBackOff func() backoff.BackOff
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithBackOff overrides the retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(cl *Client) {
		if fn != nil {
			cl.newBackOff = fn
		}
	}
}

func New(cfg Config, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.New()
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		log:        log.Component("ist-extractor"),
	}
	c.newBackOff = func() backoff.BackOff {
		// MaxElapsedTime 0 would retry forever; a zero budget means one attempt.
		if cfg.MaxRetryTime <= 0 {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 0)
		}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = cfg.MaxRetryTime
		return b
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatTurn struct {
	Role      types.ChatMessageRole `json:"role"`
	Content   string                `json:"content"`
	CreatedAt *string               `json:"created_at"`
}

type istTurn struct {
	Intent     string   `json:"intent"`
	Skills     []string `json:"skills"`
	Trajectory []string `json:"trajectory"`
	CreatedAt  string   `json:"created_at"`
}

type profile struct {
	StrongSkills   []string `json:"strong_skills"`
	WeakSkills     []string `json:"weak_skills"`
	CourseProgress *string  `json:"course_progress"`
}

type payload struct {
	Utterance      string     `json:"utterance"`
	CourseContext  *string    `json:"course_context"`
	ChatHistory    []chatTurn `json:"chat_history"`
	ISTHistory     []istTurn  `json:"ist_history"`
	StudentProfile *profile   `json:"student_profile"`
}

func buildPayload(req ExtractRequest) payload {
	p := payload{
		Utterance:     strings.TrimSpace(req.Utterance),
		CourseContext: req.CourseContext,
		ChatHistory:   make([]chatTurn, 0, len(req.ChatHistory)),
		ISTHistory:    make([]istTurn, 0, len(req.ISTHistory)),
	}
	for _, m := range req.ChatHistory {
		p.ChatHistory = append(p.ChatHistory, chatTurn{Role: m.Role, Content: m.Content, CreatedAt: types.StrPtr(m.CreatedAt)})
	}
	for _, ev := range req.ISTHistory {
		p.ISTHistory = append(p.ISTHistory, istTurn{
			Intent:     ev.Intent,
			Skills:     nonNil(ev.Skills),
			Trajectory: nonNil(ev.Trajectory),
			CreatedAt:  ev.CreatedAt,
		})
	}
	if sp := req.StudentProfile; sp != nil {
		p.StudentProfile = &profile{
			StrongSkills:   nonNil(sp.StrongSkills),
			WeakSkills:     nonNil(sp.WeakSkills),
			CourseProgress: sp.CourseProgress,
		}
	}
	return p
}

// Extract sends one utterance to the IST service. Transport failures and
// 5xx answers are retried until MaxRetryTime (zero means a single attempt);
// 4xx answers and unparseable bodies are not.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (types.ISTResult, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return types.ISTResult{}, ErrEmptyUtterance
	}

	if c.cfg.Mock {
		c.log.Info("mock extraction mode ON - returning deterministic IST result")
		return mockResult(req), nil
	}

	if c.cfg.BaseURL == "" {
		return types.ISTResult{}, ErrNotConfigured
	}

	data, err := json.Marshal(buildPayload(req))
	if err != nil {
		return types.ISTResult{}, fmt.Errorf("encode ist request: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + istPath
	c.log.WithField("payload_len", len(data)).Debug("ist request")

	var (
		result  types.ISTResult
		lastErr error
	)
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			c.log.WithError(err).Warn("ist request failed")
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		log := c.log.WithField("http_status", resp.StatusCode)
		log.Debug("ist raw:\n" + string(body))

		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("ist service returned status %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				return backoff.Permanent(lastErr)
			}
			log.Warn("ist service error, retrying")
			return lastErr
		}

		parsed, err := parseResult(body)
		if err != nil {
			lastErr = err
			log.WithError(err).Warn("unmarshal ist response failed")
			return backoff.Permanent(err)
		}
		result = parsed
		lastErr = nil
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return types.ISTResult{}, fmt.Errorf("ist extract failed: %w", lastErr)
	}

	c.log.WithField("skills", result.Skills).Info("parsed IST result")
	return result, nil
}

// parseResult decodes the body directly and falls back to the first
// balanced JSON object inside it.
func parseResult(body []byte) (types.ISTResult, error) {
	var res types.ISTResult
	if err := json.Unmarshal(body, &res); err != nil {
		fallback := extractJSON(string(body))
		if fallback == "" {
			return types.ISTResult{}, fmt.Errorf("no JSON found in ist output")
		}
		if err := json.Unmarshal([]byte(fallback), &res); err != nil {
			return types.ISTResult{}, fmt.Errorf("decode ist output: %w", err)
		}
	}
	res.Skills = nonNil(res.Skills)
	res.Trajectory = nonNil(res.Trajectory)
	return res, nil
}

// extractJSON finds the first balanced JSON object in a string.
// Markdown fences are stripped first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}

func mockResult(req ExtractRequest) types.ISTResult {
	skills := []string{"problem decomposition"}
	if req.CourseContext != nil && strings.TrimSpace(*req.CourseContext) != "" {
		skills = append(skills, strings.ToLower(strings.TrimSpace(*req.CourseContext)))
	}
	return types.ISTResult{
		Intent:     "Understand: " + strings.TrimSpace(req.Utterance),
		Skills:     skills,
		Trajectory: []string{"Review a worked example", "Attempt a similar exercise"},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
