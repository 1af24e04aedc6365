package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptions_JSONOutsideLocal(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(Options{Environment: "prod", Level: "debug", Output: &buf})

	log.Component("report").WithField("course_id", "c1").Debug("computed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "computed", line["msg"])
	assert.Equal(t, "report", line["component"])
	assert.Equal(t, "c1", line["course_id"])
	assert.Equal(t, logrus.DebugLevel, log.Logger.GetLevel())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, parseLevel("warn"))
	assert.Equal(t, logrus.ErrorLevel, parseLevel("error"))
	assert.Equal(t, logrus.InfoLevel, parseLevel(""))
	assert.Equal(t, logrus.InfoLevel, parseLevel("verbose"))
}

func TestWithRequest(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(Options{Environment: "prod", Output: &buf})

	req := httptest.NewRequest("GET", "/api/courses/c1/ist-report", nil)
	req.Header.Set("X-Request-ID", "req-123")
	log.WithRequest(req).Info("hit")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-123", line["req_id"])
	assert.Equal(t, "/api/courses/c1/ist-report", line["path"])

	buf.Reset()
	log.WithRequest(httptest.NewRequest("GET", "/healthz", nil)).Info("hit")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotEmpty(t, line["req_id"])
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(Options{Environment: "prod", Output: &buf})

	log.WithError(errors.New("boom")).Warn("failed")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["error"])

	assert.Equal(t, log.Entry, log.WithError(nil))
}
