package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.EventReceived("before_tool_call")
	m.EventReceived("before_tool_call")
	m.RecordWritten("tool_result_persist")
	m.Correlated(true)
	m.Correlated(false)
	m.DuplicateDropped()
	m.RegisterPending(func() float64 { return 3 })

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("before_tool_call")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Correlations.WithLabelValues("missed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `clawtrace_records_written_total{source="tool_result_persist"} 1`)
	assert.Contains(t, string(body), "clawtrace_correlator_pending_starts 3")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.EventReceived("x")
	m.AppendFailed()
	m.ObserverConnected()
	m.RegisterPending(func() float64 { return 0 })
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
