package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRecordHelpers(t *testing.T) {
	before := counterValue(t, OrdersTotal.WithLabelValues("TESTUSDT", "BUY", "failed"))
	RecordOrder("TESTUSDT", "BUY", false)
	assert.Equal(t, before+1, counterValue(t, OrdersTotal.WithLabelValues("TESTUSDT", "BUY", "failed")))

	RecordTick("TESTUSDT", "ok", 12*time.Millisecond)
	assert.GreaterOrEqual(t, counterValue(t, TicksTotal.WithLabelValues("TESTUSDT", "ok")), 1.0)

	UpdateRisk(-123.5, true, 3)
	assert.Equal(t, -123.5, gaugeValue(t, DailyPnL))
	assert.Equal(t, 1.0, gaugeValue(t, CircuitBreaker))
	assert.Equal(t, 3.0, gaugeValue(t, OpenPositions))

	UpdateRisk(0, false, 0)
	assert.Equal(t, 0.0, gaugeValue(t, CircuitBreaker))
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	RecordExit("TESTUSDT", "TAKE_PROFIT")
	srv := NewServer(":0")

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "scalper_execution_exits_total"))

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
