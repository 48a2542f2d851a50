package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStage(t *testing.T) {
	m := New()
	m.RecordStage("infer", nil)
	m.RecordStage("infer", nil)
	m.RecordStage("execute", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageTotal.WithLabelValues("infer", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTotal.WithLabelValues("execute", "error")))
}

func TestRecordToolCall(t *testing.T) {
	m := New()
	m.RecordToolCall("read_file", 20*time.Millisecond, nil)
	m.RecordToolCall("read_file", 10*time.Millisecond, errors.New("missing"))

	expected := `
# HELP hodie_tool_calls_total Tool calls executed, by tool and outcome.
# TYPE hodie_tool_calls_total counter
hodie_tool_calls_total{status="error",tool="read_file"} 1
hodie_tool_calls_total{status="ok",tool="read_file"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.ToolCallsTotal, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ToolSeconds))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordStage("infer", nil)
	m.RecordInference(time.Second)
	m.RecordToolCall("x", time.Second, nil)
	m.RecordApproval("granted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordApproval("denied")
	m.RecordInference(1500 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `hodie_approvals_total{decision="denied"} 1`)
	assert.Contains(t, string(body), `hodie_inference_seconds_count 1`)
	assert.Contains(t, string(body), `go_goroutines`)
}
