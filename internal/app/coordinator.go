package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/metrics"
	"cryptoScalper/internal/ports"
	"cryptoScalper/internal/risk"

	"github.com/jpillora/backoff"
)

// Ticker is one per-symbol lifecycle driven by the coordinator.
type Ticker interface {
	Symbol() string
	Tick(ctx context.Context) (domain.Decision, error)
}

// CoordinatorConfig holds the loop cadence and failure handling parameters.
type CoordinatorConfig struct {
	TickInterval time.Duration
	TickTimeout  time.Duration // Upper bound for one tick, independent of shutdown
	BackoffMin   time.Duration // Extra delay after a failed tick, doubled per consecutive failure
	BackoffMax   time.Duration
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 800 * time.Millisecond
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 10 * time.Second
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 500 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = 30 * time.Second
	}
}

// Coordinator runs one supervised loop per symbol.
type Coordinator struct {
	cfg     CoordinatorConfig
	logger  ports.Logger
	audit   AuditEmitter
	store   PositionStore
	risk    RiskController
	tickers []Ticker

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewCoordinator creates a coordinator for the given tickers.
func NewCoordinator(cfg CoordinatorConfig, tickers []Ticker, store PositionStore, riskCtl RiskController, audit AuditEmitter, logger ports.Logger) (*Coordinator, error) {
	if logger == nil || audit == nil || store == nil || riskCtl == nil {
		return nil, fmt.Errorf("missing required dependencies for Coordinator")
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", ports.ErrConfigurationError)
	}
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		if seen[t.Symbol()] {
			return nil, fmt.Errorf("%w: duplicate symbol %s", ports.ErrConfigurationError, t.Symbol())
		}
		seen[t.Symbol()] = true
	}
	cfg.applyDefaults()
	return &Coordinator{
		cfg:     cfg,
		logger:  logger,
		audit:   audit,
		store:   store,
		risk:    riskCtl,
		tickers: tickers,
	}, nil
}

// Run starts every symbol loop and blocks until ctx is canceled or Shutdown is
// called, then waits for in-flight ticks to finish.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("coordinator already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	done := c.done
	c.mu.Unlock()
	defer cancel()

	c.logger.Info(ctx, "Starting symbol loops", map[string]interface{}{
		"symbols":      len(c.tickers),
		"tickInterval": c.cfg.TickInterval.String(),
	})

	var wg sync.WaitGroup
	for _, t := range c.tickers {
		wg.Add(1)
		go func(t Ticker) {
			defer wg.Done()
			c.supervise(ctx, t)
		}(t)
	}

	<-ctx.Done()
	wg.Wait()
	close(done)
	c.logger.Info(context.Background(), "All symbol loops stopped")
	return nil
}

// Shutdown asks every loop to stop after its current tick and waits up to timeout.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: symbol loops still running after %s", ports.ErrTimeout, timeout)
	}
}

// Positions returns a snapshot of every open position.
func (c *Coordinator) Positions() []*domain.Position {
	return c.store.Snapshot()
}

// Risk returns a snapshot of the shared risk state.
func (c *Coordinator) Risk() risk.RiskSnapshot {
	return c.risk.Snapshot()
}

// supervise restarts a crashed loop after a backoff delay until ctx is done.
func (c *Coordinator) supervise(ctx context.Context, t Ticker) {
	restarts := &backoff.Backoff{Min: c.cfg.BackoffMin, Max: c.cfg.BackoffMax, Factor: 2, Jitter: true}
	for {
		crashed := c.loop(ctx, t)
		if !crashed || ctx.Err() != nil {
			return
		}
		metrics.WorkerRestarts.WithLabelValues(t.Symbol()).Inc()
		delay := restarts.Duration()
		c.logger.Warn(ctx, "Restarting symbol loop", map[string]interface{}{"symbol": t.Symbol(), "delay": delay.String()})
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// loop runs ticks sequentially on the configured cadence. It returns true when a
// tick panicked.
func (c *Coordinator) loop(ctx context.Context, t Ticker) (crashed bool) {
	failures := &backoff.Backoff{Min: c.cfg.BackoffMin, Max: c.cfg.BackoffMax, Factor: 2, Jitter: true}
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		ok, panicked := c.safeTick(ctx, t)
		if panicked {
			return true
		}

		var extra time.Duration
		if ok {
			failures.Reset()
		} else {
			extra = failures.Duration()
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if extra > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(extra):
			}
		}
	}
}

// safeTick runs one tick to completion even if ctx is canceled meanwhile, so a
// buy is never left without its position record.
func (c *Coordinator) safeTick(ctx context.Context, t Ticker) (ok bool, panicked bool) {
	start := time.Now()
	symbol := t.Symbol()
	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.TickTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err := fmt.Errorf("panic in %s tick: %v", symbol, r)
			c.logger.Error(ctx, err, "Symbol loop crashed", map[string]interface{}{"symbol": symbol, "stack": string(debug.Stack())})
			c.audit.Emit(domain.TradeAuditRecord{
				Symbol:    symbol,
				Kind:      domain.AuditFatal,
				Action:    domain.ActionError,
				Reason:    err.Error(),
				Timestamp: time.Now(),
			})
			metrics.RecordTick(symbol, "panic", time.Since(start))
		}
	}()

	decision, err := t.Tick(tickCtx)
	metrics.RecordDecision(symbol, string(decision.Action))
	c.publishRisk()

	if err != nil {
		kind := classify(err)
		c.audit.Emit(domain.TradeAuditRecord{
			Symbol:    symbol,
			Kind:      kind,
			Action:    decision.Action,
			Price:     decision.Price,
			Quantity:  decision.Quantity,
			Reason:    err.Error(),
			Timestamp: time.Now(),
		})
		if kind == domain.AuditWarning {
			c.logger.Warn(ctx, "Tick degraded", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		} else {
			c.logger.Error(ctx, err, "Tick failed", map[string]interface{}{"symbol": symbol})
		}
		metrics.RecordTick(symbol, "error", time.Since(start))
		return false, false
	}

	c.logger.Debug(ctx, "Tick completed", map[string]interface{}{"symbol": symbol, "action": string(decision.Action), "reason": decision.Reason})
	metrics.RecordTick(symbol, "ok", time.Since(start))
	return true, false
}

func (c *Coordinator) publishRisk() {
	snap := c.risk.Snapshot()
	metrics.UpdateRisk(snap.DailyRealizedPnL, snap.CircuitBreakerEngaged, snap.OpenPositions)
}

// classify maps a tick error to the audit kind it is reported as.
func classify(err error) domain.AuditKind {
	switch {
	case errors.Is(err, ports.ErrSignalSource), errors.Is(err, ports.ErrInsufficientData):
		return domain.AuditWarning
	default:
		return domain.AuditError
	}
}
