package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"
	"cryptoScalper/internal/risk"
	"cryptoScalper/internal/store"
)

// fakeTicker counts ticks and tracks overlapping calls.
type fakeTicker struct {
	symbol  string
	tickFn  func(ctx context.Context, n int64) (domain.Decision, error)
	ticks   atomic.Int64
	active  atomic.Int32
	overlap atomic.Bool
}

func (f *fakeTicker) Symbol() string { return f.symbol }

func (f *fakeTicker) Tick(ctx context.Context) (domain.Decision, error) {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	n := f.ticks.Add(1)
	if f.tickFn != nil {
		return f.tickFn(ctx, n)
	}
	return domain.Decision{Symbol: f.symbol, Action: domain.ActionHold}, nil
}

func fastConfig() CoordinatorConfig {
	return CoordinatorConfig{
		TickInterval: 5 * time.Millisecond,
		TickTimeout:  time.Second,
		BackoffMin:   time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, cfg CoordinatorConfig, tickers ...Ticker) (*Coordinator, *mockAudit) {
	t.Helper()
	logger := &mockLogger{}
	st, err := store.New(newMockRepo(), logger)
	require.NoError(t, err)
	rm, err := risk.NewRiskManager(risk.RiskConfig{
		MaxDailyLoss:        500,
		MaxOpenPositions:    3,
		PositionSizePercent: 0.1,
	})
	require.NoError(t, err)
	audit := &mockAudit{}
	c, err := NewCoordinator(cfg, tickers, st, rm, audit, logger)
	require.NoError(t, err)
	return c, audit
}

func startCoordinator(t *testing.T, c *Coordinator) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	return errCh
}

func TestNewCoordinator_Validation(t *testing.T) {
	logger := &mockLogger{}
	st, err := store.New(newMockRepo(), logger)
	require.NoError(t, err)
	rm, err := risk.NewRiskManager(risk.RiskConfig{MaxDailyLoss: 1, MaxOpenPositions: 1, PositionSizePercent: 0.1})
	require.NoError(t, err)

	tests := []struct {
		name    string
		tickers []Ticker
		wantErr error
	}{
		{"no symbols", nil, ports.ErrConfigurationError},
		{"duplicate symbols", []Ticker{&fakeTicker{symbol: "BTCUSDT"}, &fakeTicker{symbol: "BTCUSDT"}}, ports.ErrConfigurationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCoordinator(fastConfig(), tt.tickers, st, rm, &mockAudit{}, logger)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = NewCoordinator(fastConfig(), []Ticker{&fakeTicker{symbol: "BTCUSDT"}}, nil, rm, &mockAudit{}, logger)
	assert.Error(t, err)
}

func TestCoordinator_FailuresAreIsolated(t *testing.T) {
	healthy := &fakeTicker{symbol: "ETHUSDT"}
	failing := &fakeTicker{symbol: "SOLUSDT", tickFn: func(ctx context.Context, n int64) (domain.Decision, error) {
		return domain.Decision{Action: domain.ActionError}, errors.New("unexpected state")
	}}
	panicking := &fakeTicker{symbol: "BTCUSDT", tickFn: func(ctx context.Context, n int64) (domain.Decision, error) {
		panic("nil map write")
	}}

	c, audit := newTestCoordinator(t, fastConfig(), healthy, failing, panicking)
	errCh := startCoordinator(t, c)

	require.Eventually(t, func() bool {
		return healthy.ticks.Load() >= 5 && panicking.ticks.Load() >= 2 && failing.ticks.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Shutdown(time.Second))
	require.NoError(t, <-errCh)

	assert.GreaterOrEqual(t, audit.bySymbol("BTCUSDT", domain.AuditFatal), 2)
	assert.GreaterOrEqual(t, audit.bySymbol("SOLUSDT", domain.AuditError), 2)
	assert.Zero(t, audit.bySymbol("ETHUSDT", domain.AuditError))
	assert.Zero(t, audit.bySymbol("ETHUSDT", domain.AuditFatal))
}

func TestCoordinator_SignalSourceErrorsAreWarnings(t *testing.T) {
	ticker := &fakeTicker{symbol: "BTCUSDT", tickFn: func(ctx context.Context, n int64) (domain.Decision, error) {
		return domain.Decision{Action: domain.ActionError}, ports.ErrSignalSource
	}}
	c, audit := newTestCoordinator(t, fastConfig(), ticker)
	errCh := startCoordinator(t, c)

	require.Eventually(t, func() bool { return ticker.ticks.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Shutdown(time.Second))
	require.NoError(t, <-errCh)

	assert.GreaterOrEqual(t, audit.bySymbol("BTCUSDT", domain.AuditWarning), 1)
	assert.Zero(t, audit.bySymbol("BTCUSDT", domain.AuditError))
}

func TestCoordinator_TicksAreSequentialPerSymbol(t *testing.T) {
	ticker := &fakeTicker{symbol: "BTCUSDT", tickFn: func(ctx context.Context, n int64) (domain.Decision, error) {
		time.Sleep(8 * time.Millisecond)
		return domain.Decision{Action: domain.ActionHold}, nil
	}}
	c, _ := newTestCoordinator(t, fastConfig(), ticker)
	errCh := startCoordinator(t, c)

	require.Eventually(t, func() bool { return ticker.ticks.Load() >= 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Shutdown(time.Second))
	require.NoError(t, <-errCh)
	assert.False(t, ticker.overlap.Load())
}

func TestCoordinator_ShutdownWaitsForInFlightTick(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	var ctxErr atomic.Value
	var finished atomic.Bool

	ticker := &fakeTicker{symbol: "BTCUSDT", tickFn: func(ctx context.Context, n int64) (domain.Decision, error) {
		once.Do(func() { close(started) })
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			ctxErr.Store(ctx.Err())
		}
		finished.Store(true)
		return domain.Decision{Action: domain.ActionHold}, nil
	}}
	cfg := fastConfig()
	cfg.TickInterval = time.Hour
	c, _ := newTestCoordinator(t, cfg, ticker)
	errCh := startCoordinator(t, c)

	<-started
	require.NoError(t, c.Shutdown(time.Second))
	assert.True(t, finished.Load())
	assert.Nil(t, ctxErr.Load(), "in-flight tick context must survive shutdown")
	require.NoError(t, <-errCh)
	assert.Equal(t, int64(1), ticker.ticks.Load())
}

func TestCoordinator_ShutdownTimeout(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	release := make(chan struct{})

	ticker := &fakeTicker{symbol: "BTCUSDT", tickFn: func(ctx context.Context, n int64) (domain.Decision, error) {
		once.Do(func() { close(started) })
		<-release
		return domain.Decision{Action: domain.ActionHold}, nil
	}}
	c, _ := newTestCoordinator(t, fastConfig(), ticker)
	errCh := startCoordinator(t, c)

	<-started
	err := c.Shutdown(20 * time.Millisecond)
	assert.ErrorIs(t, err, ports.ErrTimeout)

	close(release)
	require.NoError(t, <-errCh)
}

func TestCoordinator_RunTwice(t *testing.T) {
	c, _ := newTestCoordinator(t, fastConfig(), &fakeTicker{symbol: "BTCUSDT"})
	errCh := startCoordinator(t, c)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.running
	}, time.Second, time.Millisecond)
	assert.Error(t, c.Run(context.Background()))

	require.NoError(t, c.Shutdown(time.Second))
	require.NoError(t, <-errCh)
}

func TestCoordinator_ShutdownBeforeRun(t *testing.T) {
	c, _ := newTestCoordinator(t, fastConfig(), &fakeTicker{symbol: "BTCUSDT"})
	assert.NoError(t, c.Shutdown(10*time.Millisecond))
}

func TestCoordinator_Snapshots(t *testing.T) {
	c, _ := newTestCoordinator(t, fastConfig(), &fakeTicker{symbol: "BTCUSDT"})
	require.NoError(t, c.store.Put(context.Background(), &domain.Position{Symbol: "BTCUSDT", EntryPrice: 100, Quantity: 1}))

	positions := c.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.False(t, c.Risk().CircuitBreakerEngaged)
}
