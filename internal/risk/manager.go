// Package risk owns the portfolio-wide risk state shared by every symbol loop.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"
)

// RiskConfig holds configuration for risk management.
type RiskConfig struct {
	MaxDailyLoss            float64       // Absolute quote-currency loss that engages the circuit breaker
	TradeCooldown           time.Duration // Minimum gap between buys on one symbol
	MaxOpenPositions        int
	MaxDailyTradesPerSymbol int     // 0 disables the cap
	PositionSizePercent     float64 // Fraction of equity committed per entry
	ConfidenceScaling       bool    // Scale the notional by the signal confidence
	MinNotional             float64
	MaxNotional             float64        // 0 disables the cap
	Location                *time.Location // Calendar used for the daily boundary, UTC when nil
}

// Validate checks the configuration.
func (c RiskConfig) Validate() error {
	if c.MaxDailyLoss <= 0 {
		return fmt.Errorf("max daily loss must be positive")
	}
	if c.TradeCooldown < 0 {
		return fmt.Errorf("trade cooldown cannot be negative")
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("max open positions must be positive")
	}
	if c.MaxDailyTradesPerSymbol < 0 {
		return fmt.Errorf("max daily trades cannot be negative")
	}
	if c.PositionSizePercent <= 0 || c.PositionSizePercent > 1 {
		return fmt.Errorf("position size percent must be in (0,1]")
	}
	if c.MinNotional < 0 || c.MaxNotional < 0 {
		return fmt.Errorf("notional limits cannot be negative")
	}
	if c.MaxNotional > 0 && c.MaxNotional < c.MinNotional {
		return fmt.Errorf("max notional must not be below min notional")
	}
	return nil
}

// RiskSnapshot is a read-only copy of the risk state.
type RiskSnapshot struct {
	Day                   string
	DailyRealizedPnL      float64
	CircuitBreakerEngaged bool
	OpenPositions         int
	TradesToday           map[string]int
	LastTradeTime         map[string]map[domain.OrderSide]time.Time
}

// Option customizes a RiskManager.
type Option func(*RiskManager)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *RiskManager) { r.now = now }
}

// RiskManager serializes every mutation of the shared risk state behind one mutex.
type RiskManager struct {
	cfg RiskConfig
	now func() time.Time

	mu          sync.Mutex
	day         string
	dailyPnL    decimal.Decimal
	breaker     bool
	lastTrade   map[string]map[domain.OrderSide]time.Time
	tradesToday map[string]int
	open        map[string]struct{}
	reserved    map[string]struct{} // entries admitted whose buy has not been recorded yet
}

// NewRiskManager creates a new risk manager instance.
func NewRiskManager(cfg RiskConfig, opts ...Option) (*RiskManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	r := &RiskManager{
		cfg:         cfg,
		now:         time.Now,
		lastTrade:   make(map[string]map[domain.OrderSide]time.Time),
		tradesToday: make(map[string]int),
		open:        make(map[string]struct{}),
		reserved:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.day = r.dayKey(r.now())
	return r, nil
}

func (r *RiskManager) dayKey(t time.Time) string {
	return t.In(r.cfg.Location).Format("2006-01-02")
}

// rollover resets the daily counters when the calendar day changed. Caller holds mu.
func (r *RiskManager) rollover(now time.Time) {
	if day := r.dayKey(now); day != r.day {
		r.resetDailyLocked(day)
	}
}

func (r *RiskManager) resetDailyLocked(day string) {
	r.day = day
	r.dailyPnL = decimal.Zero
	r.breaker = false
	r.tradesToday = make(map[string]int)
}

// Admit reports whether a new entry on symbol is allowed, with the denial reason.
// It does not hold a slot; call Reserve before placing the buy.
func (r *RiskManager) Admit(symbol string) (bool, string) {
	symbol = domain.NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitLocked(symbol, r.now())
}

// Reserve re-runs the admission checks and, when they pass, holds an open
// position slot for symbol until RecordEntry or Release.
func (r *RiskManager) Reserve(symbol string) (bool, string) {
	symbol = domain.NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[symbol]; ok {
		return false, fmt.Sprintf("entry already in flight for %s", symbol)
	}
	if ok, reason := r.admitLocked(symbol, r.now()); !ok {
		return false, reason
	}
	r.reserved[symbol] = struct{}{}
	return true, ""
}

// Release returns a slot taken by Reserve when no position was recorded.
func (r *RiskManager) Release(symbol string) {
	symbol = domain.NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, symbol)
}

func (r *RiskManager) admitLocked(symbol string, now time.Time) (bool, string) {
	r.rollover(now)

	if r.breaker {
		return false, fmt.Sprintf("circuit breaker engaged (daily pnl %s, limit -%.2f)", r.dailyPnL.StringFixed(2), r.cfg.MaxDailyLoss)
	}
	if last, ok := r.lastTrade[symbol][domain.Buy]; ok && r.cfg.TradeCooldown > 0 {
		if elapsed := now.Sub(last); elapsed < r.cfg.TradeCooldown {
			return false, fmt.Sprintf("cooldown active for %s (%s remaining)", symbol, (r.cfg.TradeCooldown - elapsed).Round(time.Second))
		}
	}
	if held := r.heldLocked(); held >= r.cfg.MaxOpenPositions {
		return false, fmt.Sprintf("max open positions reached (%d/%d)", held, r.cfg.MaxOpenPositions)
	}
	if r.cfg.MaxDailyTradesPerSymbol > 0 && r.tradesToday[symbol] >= r.cfg.MaxDailyTradesPerSymbol {
		return false, fmt.Sprintf("daily trade limit reached (%d/%d)", r.tradesToday[symbol], r.cfg.MaxDailyTradesPerSymbol)
	}
	return true, ""
}

// heldLocked counts open positions plus reservations not yet open.
func (r *RiskManager) heldLocked() int {
	n := len(r.open)
	for symbol := range r.reserved {
		if _, ok := r.open[symbol]; !ok {
			n++
		}
	}
	return n
}

// AllowScale reports whether adding to an open position is allowed.
func (r *RiskManager) AllowScale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover(r.now())
	return !r.breaker
}

// SizePosition converts a fraction of equity into a base-asset quantity at price.
func (r *RiskManager) SizePosition(symbol string, equity, price, confidence float64) (float64, error) {
	if equity <= 0 {
		return 0, fmt.Errorf("%w: equity %.8f for %s", ports.ErrInvalidSize, equity, symbol)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: price %.8f for %s", ports.ErrInvalidSize, price, symbol)
	}

	notional := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(r.cfg.PositionSizePercent))
	if r.cfg.ConfidenceScaling {
		if confidence > 1 {
			confidence = 1
		}
		if confidence <= 0 {
			return 0, fmt.Errorf("%w: non-positive confidence for %s", ports.ErrInvalidSize, symbol)
		}
		notional = notional.Mul(decimal.NewFromFloat(confidence))
	}
	if r.cfg.MaxNotional > 0 {
		notional = decimal.Min(notional, decimal.NewFromFloat(r.cfg.MaxNotional))
	}
	if !notional.IsPositive() || notional.LessThan(decimal.NewFromFloat(r.cfg.MinNotional)) {
		return 0, fmt.Errorf("%w: notional %s below minimum %.2f for %s", ports.ErrInvalidSize, notional.StringFixed(2), r.cfg.MinNotional, symbol)
	}

	qty, _ := notional.Div(decimal.NewFromFloat(price)).Float64()
	if qty <= 0 {
		return 0, fmt.Errorf("%w: quantity rounds to zero for %s", ports.ErrInvalidSize, symbol)
	}
	return qty, nil
}

// ReportClosedTrade adds realized pnl to the daily accumulator and engages the
// circuit breaker once the daily loss reaches the configured limit.
func (r *RiskManager) ReportClosedTrade(pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover(r.now())

	r.dailyPnL = r.dailyPnL.Add(decimal.NewFromFloat(pnl))
	if r.dailyPnL.LessThanOrEqual(decimal.NewFromFloat(-r.cfg.MaxDailyLoss)) {
		r.breaker = true
	}
}

// ResetDaily zeroes the daily accumulator and clears the circuit breaker.
func (r *RiskManager) ResetDaily() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetDailyLocked(r.dayKey(r.now()))
}

// RecordEntry registers a new position opened on symbol at the given time.
func (r *RiskManager) RecordEntry(symbol string, at time.Time) {
	symbol = domain.NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover(r.now())
	r.setLastTradeLocked(symbol, domain.Buy, at)
	r.open[symbol] = struct{}{}
	delete(r.reserved, symbol)
	r.tradesToday[symbol]++
}

// RecordScale registers an additional buy on an already open position.
func (r *RiskManager) RecordScale(symbol string, at time.Time) {
	symbol = domain.NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLastTradeLocked(symbol, domain.Buy, at)
}

// RecordExit registers a full close on symbol.
func (r *RiskManager) RecordExit(symbol string, at time.Time) {
	symbol = domain.NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLastTradeLocked(symbol, domain.Sell, at)
	delete(r.open, symbol)
}

func (r *RiskManager) setLastTradeLocked(symbol string, side domain.OrderSide, at time.Time) {
	sides, ok := r.lastTrade[symbol]
	if !ok {
		sides = make(map[domain.OrderSide]time.Time, 2)
		r.lastTrade[symbol] = sides
	}
	if at.After(sides[side]) {
		sides[side] = at
	}
}

// Restore rebuilds the state after a restart from today's closed trades and the
// positions that are still open.
func (r *RiskManager) Restore(todaysTrades []*domain.Trade, openPositions []*domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetDailyLocked(r.dayKey(r.now()))

	for _, t := range todaysTrades {
		if t == nil || r.dayKey(t.ExitTime) != r.day {
			continue
		}
		symbol := domain.NormalizeSymbol(t.Symbol)
		r.dailyPnL = r.dailyPnL.Add(decimal.NewFromFloat(t.PNL))
		if r.dayKey(t.EntryTime) == r.day {
			r.tradesToday[symbol]++
		}
		r.setLastTradeLocked(symbol, domain.Buy, t.EntryTime)
		r.setLastTradeLocked(symbol, domain.Sell, t.ExitTime)
	}
	if r.dailyPnL.LessThanOrEqual(decimal.NewFromFloat(-r.cfg.MaxDailyLoss)) {
		r.breaker = true
	}

	r.open = make(map[string]struct{}, len(openPositions))
	r.reserved = make(map[string]struct{})
	for _, p := range openPositions {
		if p == nil {
			continue
		}
		symbol := domain.NormalizeSymbol(p.Symbol)
		r.open[symbol] = struct{}{}
		if r.dayKey(p.OpenedAt) == r.day {
			r.tradesToday[symbol]++
		}
		r.setLastTradeLocked(symbol, domain.Buy, p.OpenedAt)
	}
}

// Snapshot returns a copy of the current state.
func (r *RiskManager) Snapshot() RiskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover(r.now())

	pnl, _ := r.dailyPnL.Float64()
	snap := RiskSnapshot{
		Day:                   r.day,
		DailyRealizedPnL:      pnl,
		CircuitBreakerEngaged: r.breaker,
		OpenPositions:         len(r.open),
		TradesToday:           make(map[string]int, len(r.tradesToday)),
		LastTradeTime:         make(map[string]map[domain.OrderSide]time.Time, len(r.lastTrade)),
	}
	for k, v := range r.tradesToday {
		snap.TradesToday[k] = v
	}
	for sym, sides := range r.lastTrade {
		cp := make(map[domain.OrderSide]time.Time, len(sides))
		for side, at := range sides {
			cp[side] = at
		}
		snap.LastTradeTime[sym] = cp
	}
	return snap
}
