// Package metrics exposes Prometheus collectors for the trading engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scalper"

// ============ Lifecycle ============

// TicksTotal counts completed ticks per symbol and outcome (ok, error, panic).
var TicksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "ticks_total",
		Help:      "Total number of lifecycle ticks",
	},
	[]string{"symbol", "outcome"},
)

// TickLatency is the wall time of one decide-and-commit sequence.
var TickLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "tick_duration_ms",
		Help:      "Duration of a lifecycle tick in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
	[]string{"symbol"},
)

// DecisionsTotal counts decisions by action.
var DecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "decisions_total",
		Help:      "Total number of tick decisions by action",
	},
	[]string{"symbol", "action"},
)

// WorkerRestarts counts supervisor restarts of crashed symbol loops.
var WorkerRestarts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "worker_restarts_total",
		Help:      "Total number of symbol loop restarts",
	},
	[]string{"symbol"},
)

// ============ Execution ============

// OrdersTotal counts orders by side and result (filled, failed).
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "orders_total",
		Help:      "Total number of orders sent to the execution gateway",
	},
	[]string{"symbol", "side", "result"},
)

// ExitsTotal counts closed positions by close reason.
var ExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "exits_total",
		Help:      "Total number of closed positions by reason",
	},
	[]string{"symbol", "reason"},
)

// ============ Risk ============

// CircuitBreaker is 1 while new entries are blocked.
var CircuitBreaker = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "circuit_breaker_engaged",
		Help:      "Whether the daily loss circuit breaker is engaged (1) or not (0)",
	},
)

// DailyPnL is the realized profit and loss for the current trading day.
var DailyPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "daily_realized_pnl",
		Help:      "Realized PnL accumulated since the start of the trading day",
	},
)

// OpenPositions is the number of open position slots.
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "open_positions",
		Help:      "Number of currently open positions",
	},
)

// ============ Audit ============

// AuditDropped counts audit records discarded because the buffer was full.
var AuditDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "dropped_total",
		Help:      "Total number of audit records dropped on buffer overflow",
	},
)

// ============ Helpers ============

// RecordTick records a finished tick.
func RecordTick(symbol, outcome string, elapsed time.Duration) {
	TicksTotal.WithLabelValues(symbol, outcome).Inc()
	TickLatency.WithLabelValues(symbol).Observe(float64(elapsed.Microseconds()) / 1000)
}

// RecordDecision records the action a tick produced.
func RecordDecision(symbol, action string) {
	DecisionsTotal.WithLabelValues(symbol, action).Inc()
}

// RecordOrder records an order attempt.
func RecordOrder(symbol, side string, filled bool) {
	result := "filled"
	if !filled {
		result = "failed"
	}
	OrdersTotal.WithLabelValues(symbol, side, result).Inc()
}

// RecordExit records a closed position.
func RecordExit(symbol, reason string) {
	ExitsTotal.WithLabelValues(symbol, reason).Inc()
}

// UpdateRisk publishes the shared risk state.
func UpdateRisk(dailyPnL float64, breaker bool, openPositions int) {
	DailyPnL.Set(dailyPnL)
	if breaker {
		CircuitBreaker.Set(1)
	} else {
		CircuitBreaker.Set(0)
	}
	OpenPositions.Set(float64(openPositions))
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer returns an HTTP server exposing /metrics and a /healthz probe on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
