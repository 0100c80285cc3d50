package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := getMetrics()

	RecordRetry("metrics-agent", false)
	RecordRetry("metrics-agent", false)
	RecordRetry("metrics-agent", true)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retryTotal.WithLabelValues("metrics-agent", "restart")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryTotal.WithLabelValues("metrics-agent", "exhausted")))

	RecordHandover("a", "b")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handoverTotal.WithLabelValues("a", "b")))

	RecordRateLimit("agent/x", 10*time.Millisecond, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitTotal.WithLabelValues("agent/x", "timeout")))

	RecordFlowMatch("order", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flowMatchTotal.WithLabelValues("order", "matched")))
}

func TestMetricsHandler(t *testing.T) {
	RecordTurn("handler-agent", time.Second, "completed")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentflow_turn_total")
}
