package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/fusion"
	"cryptoScalper/internal/metrics"
	"cryptoScalper/internal/ports"
	"cryptoScalper/internal/risk"
	"cryptoScalper/internal/strategy"

	"github.com/shopspring/decimal"
)

// RiskController is the shared risk state a trader consults and updates.
type RiskController interface {
	Admit(symbol string) (bool, string)
	Reserve(symbol string) (bool, string)
	Release(symbol string)
	AllowScale() bool
	SizePosition(symbol string, equity, price, confidence float64) (float64, error)
	ReportClosedTrade(pnl float64)
	RecordEntry(symbol string, at time.Time)
	RecordScale(symbol string, at time.Time)
	RecordExit(symbol string, at time.Time)
	Snapshot() risk.RiskSnapshot
}

// PositionStore holds the single open position per symbol.
type PositionStore interface {
	Get(symbol string) *domain.Position
	Put(ctx context.Context, pos *domain.Position) error
	Close(ctx context.Context, symbol string, trade *domain.Trade) error
	MarkPendingClose(ctx context.Context, trade *domain.Trade) error
	Snapshot() []*domain.Position
}

// AuditEmitter accepts audit records without blocking.
type AuditEmitter interface {
	Emit(rec domain.TradeAuditRecord)
}

// TraderConfig holds the per-symbol loop parameters.
type TraderConfig struct {
	Symbol            string
	QuoteAsset        string
	CandleInterval    string
	CandleLimit       int
	OrderBookDepth    int
	SlippageTolerance float64       // Fractional deviation of a fill from the pre-order price
	CommitTimeout     time.Duration // Budget for recording a fill, independent of the tick deadline
}

const defaultCommitTimeout = 5 * time.Second

// Dependencies are the collaborators shared by every SymbolTrader.
type Dependencies struct {
	Logger     ports.Logger
	Market     ports.MarketData
	Gateway    ports.ExecutionGateway
	Balance    ports.BalanceProvider
	Indicators ports.IndicatorProvider
	Evaluator  *strategy.Evaluator
	Fusion     *fusion.Unit
	Risk       RiskController
	Store      PositionStore
	Audit      AuditEmitter
	Clock      func() time.Time // optional, defaults to time.Now
}

// pendingClose is a sell that filled on the exchange but whose commit failed.
type pendingClose struct {
	trade     *domain.Trade
	reason    domain.CloseReason
	detail    string
	persisted bool // written to the store so a restart can replay it
}

// SymbolTrader runs the lifecycle state machine for one symbol. Tick must not be
// called concurrently; the coordinator guarantees one loop per symbol.
type SymbolTrader struct {
	cfg  TraderConfig
	deps Dependencies
	now  func() time.Time

	pending *pendingClose
}

// NewSymbolTrader creates a trader for cfg.Symbol.
func NewSymbolTrader(cfg TraderConfig, deps Dependencies) (*SymbolTrader, error) {
	if deps.Logger == nil || deps.Market == nil || deps.Gateway == nil || deps.Balance == nil ||
		deps.Indicators == nil || deps.Evaluator == nil || deps.Fusion == nil ||
		deps.Risk == nil || deps.Store == nil || deps.Audit == nil {
		return nil, fmt.Errorf("missing required dependencies for SymbolTrader")
	}

	cfg.Symbol = domain.NormalizeSymbol(cfg.Symbol)
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ports.ErrConfigurationError)
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "1m"
	}
	if required := deps.Indicators.RequiredDataPoints(); cfg.CandleLimit < required {
		cfg.CandleLimit = required
	}
	if cfg.OrderBookDepth <= 0 {
		cfg.OrderBookDepth = deps.Fusion.Config().OrderBookDepth
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = defaultCommitTimeout
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &SymbolTrader{cfg: cfg, deps: deps, now: now}, nil
}

// Symbol returns the symbol this trader owns.
func (t *SymbolTrader) Symbol() string {
	return t.cfg.Symbol
}

// Tick runs one decide-and-commit sequence. The returned error, when set, has
// already left Position and risk state consistent; the decision explains what happened.
func (t *SymbolTrader) Tick(ctx context.Context) (domain.Decision, error) {
	now := t.now()

	if t.pending != nil {
		return t.retryPendingClose(ctx, now)
	}
	if pos := t.deps.Store.Get(t.cfg.Symbol); pos != nil {
		return t.manage(ctx, pos, now)
	}
	return t.seekEntry(ctx, now)
}

func (t *SymbolTrader) decision(action domain.Action, now time.Time, reason string) domain.Decision {
	return domain.Decision{Symbol: t.cfg.Symbol, Action: action, Reason: reason, At: now}
}

// commitContext bounds the work that must follow a fill. It ignores the
// deadline and cancellation of ctx, which may already be spent on the order.
func (t *SymbolTrader) commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), t.cfg.CommitTimeout)
}

func (t *SymbolTrader) fail(now time.Time, err error) (domain.Decision, error) {
	return t.decision(domain.ActionError, now, err.Error()), err
}

func (t *SymbolTrader) emit(kind domain.AuditKind, d domain.Decision) {
	t.deps.Audit.Emit(domain.TradeAuditRecord{
		Symbol:    t.cfg.Symbol,
		Kind:      kind,
		Action:    d.Action,
		Price:     d.Price,
		Quantity:  d.Quantity,
		PnL:       d.PnL,
		Reason:    d.Reason,
		Timestamp: d.At,
	})
}

// loadSeries fetches candles and computes indicators. A nil series with a nil
// error means there is not enough history yet.
func (t *SymbolTrader) loadSeries(ctx context.Context) ([]domain.Kline, domain.IndicatorSeries, error) {
	klines, err := t.deps.Market.GetRecentKlines(ctx, t.cfg.Symbol, t.cfg.CandleInterval, t.cfg.CandleLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: candles for %s: %w", ports.ErrSignalSource, t.cfg.Symbol, err)
	}
	series, err := t.deps.Indicators.Compute(klines)
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientData) {
			return klines, nil, nil
		}
		return nil, nil, fmt.Errorf("indicator computation for %s: %w", t.cfg.Symbol, err)
	}
	if len(series) < 2 {
		return klines, nil, nil
	}
	return klines, series, nil
}

// fuse computes the fusion signal. A failed order book fetch degrades that
// sub-signal to neutral.
func (t *SymbolTrader) fuse(ctx context.Context, klines []domain.Kline, latest domain.IndicatorRow, price float64) domain.FusionSignal {
	book, err := t.deps.Market.GetOrderBook(ctx, t.cfg.Symbol, t.cfg.OrderBookDepth)
	if err != nil {
		t.deps.Logger.Warn(ctx, "Order book unavailable, order book bias degraded to neutral", map[string]interface{}{
			"symbol": t.cfg.Symbol,
			"error":  err.Error(),
		})
		book = nil
	}
	return t.deps.Fusion.Compute(fusion.Input{
		OrderBook: book,
		Candles:   klines,
		Band:      latest.BandPositionOf(price),
	})
}

// --- NO_POSITION ---

func (t *SymbolTrader) seekEntry(ctx context.Context, now time.Time) (domain.Decision, error) {
	if ok, reason := t.deps.Risk.Admit(t.cfg.Symbol); !ok {
		d := t.decision(domain.ActionRejected, now, reason)
		t.emit(domain.AuditRejection, d)
		return d, nil
	}

	klines, series, err := t.loadSeries(ctx)
	if err != nil {
		return t.fail(now, err)
	}
	if series == nil {
		return t.decision(domain.ActionHold, now, "insufficient market history"), nil
	}

	entry, data := t.deps.Evaluator.EvaluateEntry(series)
	if !entry {
		d := t.decision(domain.ActionHold, now, "no technical entry signal")
		d.Price = data.Price
		return d, nil
	}

	price := t.referencePrice(ctx, data.Price)
	signal := t.fuse(ctx, klines, series.Last(), price)
	if !signal.Category.IsBuyAtLeastModerate() {
		d := t.decision(domain.ActionNoEntry, now, fmt.Sprintf("technical entry without fusion confirmation (%s)", signal.Category))
		d.Price = price
		d.Signal = &signal
		t.emit(domain.AuditNoEntry, d)
		return d, nil
	}

	equity, err := t.deps.Balance.GetFreeBalance(ctx, t.cfg.QuoteAsset)
	if err != nil {
		return t.fail(now, fmt.Errorf("%w: %s balance: %w", ports.ErrSignalSource, t.cfg.QuoteAsset, err))
	}
	qty, err := t.deps.Risk.SizePosition(t.cfg.Symbol, equity, price, signal.Confidence())
	if err != nil {
		d := t.decision(domain.ActionRejected, now, err.Error())
		d.Price = price
		d.Signal = &signal
		t.emit(domain.AuditRejection, d)
		return d, nil
	}

	return t.enterPosition(ctx, now, price, qty, data, &signal)
}

func (t *SymbolTrader) referencePrice(ctx context.Context, fallback float64) float64 {
	price, err := t.deps.Market.GetCurrentPrice(ctx, t.cfg.Symbol)
	if err != nil || price <= 0 {
		t.deps.Logger.Warn(ctx, "Live price unavailable, using last close", map[string]interface{}{"symbol": t.cfg.Symbol, "fallbackPrice": fallback})
		return fallback
	}
	return price
}

func (t *SymbolTrader) enterPosition(ctx context.Context, now time.Time, price, qty float64, data domain.EntrySignal, signal *domain.FusionSignal) (domain.Decision, error) {
	op := "enterPosition"
	t.deps.Logger.Info(ctx, op+": Attempting to enter position", map[string]interface{}{
		"symbol":   t.cfg.Symbol,
		"price":    price,
		"quantity": qty,
		"rsi":      data.RSI,
		"category": string(signal.Category),
	})

	if ok, reason := t.deps.Risk.Reserve(t.cfg.Symbol); !ok {
		d := t.decision(domain.ActionRejected, now, reason)
		d.Price = price
		d.Signal = signal
		t.emit(domain.AuditRejection, d)
		return d, nil
	}

	fill, err := t.deps.Gateway.ExecuteBuy(ctx, t.cfg.Symbol, qty)
	metrics.RecordOrder(t.cfg.Symbol, string(domain.Buy), err == nil)
	if err != nil {
		t.deps.Risk.Release(t.cfg.Symbol)
		return t.fail(now, fmt.Errorf("%w: buy %s: %w", ports.ErrExecutionFailed, t.cfg.Symbol, err))
	}
	t.checkSlippage(ctx, now, domain.Buy, price, fill)

	commitCtx, cancel := t.commitContext(ctx)
	defer cancel()

	tp, sl := t.deps.Evaluator.TakeProfitStopLoss(fill.Price, data.ATR, data.RSI)
	pos := &domain.Position{
		Symbol:            t.cfg.Symbol,
		EntryPrice:        fill.Price,
		Quantity:          fill.Quantity,
		InitialQuantity:   fill.Quantity,
		EntryFee:          fill.Fee,
		TakeProfitPrice:   tp,
		StopLossPrice:     sl,
		TrailingStopPrice: sl,
		OpenedAt:          now,
		UpdatedAt:         now,
	}

	if err := t.deps.Store.Put(commitCtx, pos); err != nil {
		t.deps.Logger.Error(ctx, err, op+": Failed to persist new position, attempting emergency close", map[string]interface{}{"symbol": t.cfg.Symbol})
		t.emergencyClose(ctx, now, fill.Quantity)
		t.deps.Risk.Release(t.cfg.Symbol)
		return t.fail(now, fmt.Errorf("position not recorded after buy (emergency close attempted): %w", err))
	}
	t.deps.Risk.RecordEntry(t.cfg.Symbol, now)

	d := t.decision(domain.ActionEnter, now, fmt.Sprintf("entry at %.8g (tp %.8g, sl %.8g)", fill.Price, tp, sl))
	d.Price = fill.Price
	d.Quantity = fill.Quantity
	d.Signal = signal
	t.emit(domain.AuditEntry, d)
	t.deps.Logger.Info(ctx, op+": Position opened", map[string]interface{}{
		"symbol":     t.cfg.Symbol,
		"entryPrice": fill.Price,
		"quantity":   fill.Quantity,
		"takeProfit": tp,
		"stopLoss":   sl,
		"orderID":    fill.OrderID,
	})
	return d, nil
}

// emergencyClose sells exposure that could not be recorded so nothing untracked remains.
func (t *SymbolTrader) emergencyClose(ctx context.Context, now time.Time, qty float64) {
	op := "emergencyClose"
	t.deps.Logger.Warn(ctx, op+": Placing emergency closing order", map[string]interface{}{"symbol": t.cfg.Symbol, "quantity": qty})
	sellCtx, cancel := t.commitContext(ctx)
	defer cancel()
	fill, err := t.deps.Gateway.ExecuteSell(sellCtx, t.cfg.Symbol, qty)
	metrics.RecordOrder(t.cfg.Symbol, string(domain.Sell), err == nil)
	if err != nil {
		t.deps.Logger.Error(ctx, err, op+": FAILED TO PLACE EMERGENCY CLOSE ORDER", map[string]interface{}{"symbol": t.cfg.Symbol, "quantity": qty})
		d := t.decision(domain.ActionError, now, fmt.Sprintf("untracked exposure of %.8g %s: emergency close failed: %v", qty, t.cfg.Symbol, err))
		d.Quantity = qty
		t.emit(domain.AuditFatal, d)
		return
	}
	metrics.RecordExit(t.cfg.Symbol, string(domain.CloseReasonEmergency))
	d := t.decision(domain.ActionExit, now, "emergency close after failed position commit")
	d.Price = fill.Price
	d.Quantity = fill.Quantity
	t.emit(domain.AuditWarning, d)
}

func (t *SymbolTrader) checkSlippage(ctx context.Context, now time.Time, side domain.OrderSide, expected float64, fill *domain.Fill) {
	if expected <= 0 || t.cfg.SlippageTolerance <= 0 {
		return
	}
	slippage := math.Abs(fill.Price-expected) / expected
	if slippage <= t.cfg.SlippageTolerance {
		return
	}
	t.deps.Logger.Warn(ctx, "Fill price deviates from reference price", map[string]interface{}{
		"symbol":    t.cfg.Symbol,
		"side":      string(side),
		"expected":  expected,
		"fillPrice": fill.Price,
		"slippage":  slippage,
	})
	d := t.decision(domain.ActionHold, now, fmt.Sprintf("%s slippage %.4f%% above tolerance %.4f%%", side, slippage*100, t.cfg.SlippageTolerance*100))
	d.Price = fill.Price
	d.Quantity = fill.Quantity
	t.emit(domain.AuditWarning, d)
}

// --- POSITION_OPEN ---

func (t *SymbolTrader) manage(ctx context.Context, pos *domain.Position, now time.Time) (domain.Decision, error) {
	price, err := t.deps.Market.GetCurrentPrice(ctx, t.cfg.Symbol)
	if err != nil {
		return t.fail(now, fmt.Errorf("%w: price for %s: %w", ports.ErrSignalSource, t.cfg.Symbol, err))
	}

	// Hard exits are evaluated against the live price before anything else.
	if hit, reason, detail := t.deps.Evaluator.CheckHardExit(pos, price, now); hit {
		return t.closePosition(ctx, pos, now, price, reason, detail)
	}

	klines, series, err := t.loadSeries(ctx)
	if err != nil {
		return t.fail(now, err)
	}
	if series == nil {
		d := t.decision(domain.ActionHold, now, "insufficient market history")
		d.Price = price
		return d, nil
	}

	exit, reason, detail := t.deps.Evaluator.EvaluateExit(series, pos, price)
	signal := t.fuse(ctx, klines, series.Last(), price)
	if !exit && signal.Category.IsSellAtLeastModerate() {
		exit, reason, detail = true, domain.CloseReasonSellPressure, fmt.Sprintf("fusion signal %s", signal.Category)
	}
	if exit {
		return t.closePosition(ctx, pos, now, price, reason, detail)
	}

	latest := series.Last()
	trail, raised := t.deps.Evaluator.UpdateTrailingStop(pos, price, latest.ATR)

	if ok, addQty := t.deps.Evaluator.ShouldScale(series, pos, price); ok && t.deps.Risk.AllowScale() {
		return t.scalePosition(ctx, pos, now, price, addQty, trail, latest)
	}

	d := t.decision(domain.ActionHold, now, "holding position")
	d.Price = price
	d.Quantity = pos.Quantity
	d.Signal = &signal
	if raised {
		updated := pos.Clone()
		updated.TrailingStopPrice = trail
		updated.UpdatedAt = now
		if err := t.deps.Store.Put(ctx, updated); err != nil {
			return t.fail(now, fmt.Errorf("raising trailing stop for %s: %w", t.cfg.Symbol, err))
		}
		d.Reason = fmt.Sprintf("trailing stop raised to %.8g", trail)
		t.deps.Logger.Debug(ctx, "Trailing stop raised", map[string]interface{}{"symbol": t.cfg.Symbol, "from": pos.TrailingStopPrice, "to": trail})
	}
	return d, nil
}

func (t *SymbolTrader) scalePosition(ctx context.Context, pos *domain.Position, now time.Time, price, addQty, trail float64, latest domain.IndicatorRow) (domain.Decision, error) {
	op := "scalePosition"
	fill, err := t.deps.Gateway.ExecuteBuy(ctx, t.cfg.Symbol, addQty)
	metrics.RecordOrder(t.cfg.Symbol, string(domain.Buy), err == nil)
	if err != nil {
		return t.fail(now, fmt.Errorf("%w: scale buy %s: %w", ports.ErrExecutionFailed, t.cfg.Symbol, err))
	}
	t.checkSlippage(ctx, now, domain.Buy, price, fill)

	commitCtx, cancel := t.commitContext(ctx)
	defer cancel()

	updated := pos.Clone()
	updated.EntryPrice = domain.AveragePrice(pos.EntryPrice, pos.Quantity, fill.Price, fill.Quantity)
	updated.Quantity, _ = decimal.NewFromFloat(pos.Quantity).Add(decimal.NewFromFloat(fill.Quantity)).Float64()
	updated.EntryFee, _ = decimal.NewFromFloat(pos.EntryFee).Add(decimal.NewFromFloat(fill.Fee)).Float64()
	updated.ScaleCount++
	tp, sl := t.deps.Evaluator.TakeProfitStopLoss(updated.EntryPrice, latest.ATR, latest.RSI)
	updated.TakeProfitPrice = math.Max(pos.TakeProfitPrice, tp)
	updated.StopLossPrice = math.Max(pos.StopLossPrice, sl)
	updated.TrailingStopPrice = math.Max(math.Max(pos.TrailingStopPrice, trail), updated.StopLossPrice)
	updated.UpdatedAt = now

	if err := t.deps.Store.Put(commitCtx, updated); err != nil {
		t.deps.Logger.Error(ctx, err, op+": Failed to persist scaled position, selling the added lot", map[string]interface{}{"symbol": t.cfg.Symbol})
		t.emergencyClose(ctx, now, fill.Quantity)
		return t.fail(now, fmt.Errorf("scale-in not recorded (added lot sold back): %w", err))
	}
	t.deps.Risk.RecordScale(t.cfg.Symbol, now)

	d := t.decision(domain.ActionScale, now, fmt.Sprintf("scale %d at %.8g, average %.8g", updated.ScaleCount, fill.Price, updated.EntryPrice))
	d.Price = fill.Price
	d.Quantity = fill.Quantity
	t.emit(domain.AuditScale, d)
	return d, nil
}

func (t *SymbolTrader) closePosition(ctx context.Context, pos *domain.Position, now time.Time, price float64, reason domain.CloseReason, detail string) (domain.Decision, error) {
	op := "closePosition"
	t.deps.Logger.Info(ctx, op+": Attempting to close position", map[string]interface{}{
		"symbol": t.cfg.Symbol,
		"price":  price,
		"reason": string(reason),
	})

	fill, err := t.deps.Gateway.ExecuteSell(ctx, t.cfg.Symbol, pos.Quantity)
	metrics.RecordOrder(t.cfg.Symbol, string(domain.Sell), err == nil)
	if err != nil {
		return t.fail(now, fmt.Errorf("%w: sell %s (%s): %w", ports.ErrExecutionFailed, t.cfg.Symbol, reason, err))
	}
	t.checkSlippage(ctx, now, domain.Sell, price, fill)

	trade := &domain.Trade{
		Symbol:      t.cfg.Symbol,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fill.Price,
		Quantity:    pos.Quantity,
		EntryFee:    pos.EntryFee,
		ExitFee:     fill.Fee,
		PNL:         domain.NetPnL(pos.EntryPrice, fill.Price, pos.Quantity, pos.EntryFee, fill.Fee),
		ScaleCount:  pos.ScaleCount,
		EntryTime:   pos.OpenedAt,
		ExitTime:    now,
		CloseReason: reason,
	}
	return t.commitClose(ctx, now, &pendingClose{trade: trade, reason: reason, detail: detail})
}

// commitClose records a filled sell. On failure the close is kept as pending,
// persisted when possible so a restart can replay it, and retried on the next
// tick without selling again.
func (t *SymbolTrader) commitClose(ctx context.Context, now time.Time, pc *pendingClose) (domain.Decision, error) {
	commitCtx, cancel := t.commitContext(ctx)
	defer cancel()

	if err := t.deps.Store.Close(commitCtx, t.cfg.Symbol, pc.trade); err != nil {
		if !pc.persisted {
			if perr := t.deps.Store.MarkPendingClose(commitCtx, pc.trade); perr != nil {
				t.deps.Logger.Error(ctx, perr, "commitClose: Pending close not persisted, it will be lost on restart", map[string]interface{}{"symbol": t.cfg.Symbol})
			} else {
				pc.persisted = true
			}
		}
		t.pending = pc
		t.deps.Logger.Error(ctx, err, "commitClose: Sell filled but close not recorded, will retry", map[string]interface{}{"symbol": t.cfg.Symbol, "pnl": pc.trade.PNL})
		return t.fail(now, fmt.Errorf("close of %s pending: %w", t.cfg.Symbol, err))
	}
	t.pending = nil

	t.deps.Risk.ReportClosedTrade(pc.trade.PNL)
	t.deps.Risk.RecordExit(t.cfg.Symbol, pc.trade.ExitTime)
	metrics.RecordExit(t.cfg.Symbol, string(pc.reason))

	d := t.decision(domain.ActionExit, now, fmt.Sprintf("%s: %s", pc.reason, pc.detail))
	d.Price = pc.trade.ExitPrice
	d.Quantity = pc.trade.Quantity
	d.PnL = pc.trade.PNL
	t.emit(domain.AuditExit, d)
	t.deps.Logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol":    t.cfg.Symbol,
		"exitPrice": pc.trade.ExitPrice,
		"pnl":       pc.trade.PNL,
		"reason":    string(pc.reason),
	})
	return d, nil
}

func (t *SymbolTrader) retryPendingClose(ctx context.Context, now time.Time) (domain.Decision, error) {
	t.deps.Logger.Info(ctx, "Retrying pending close commit", map[string]interface{}{"symbol": t.cfg.Symbol})
	return t.commitClose(ctx, now, t.pending)
}

// HasPendingClose reports whether a filled sell is still waiting to be recorded.
func (t *SymbolTrader) HasPendingClose() bool {
	return t.pending != nil
}
