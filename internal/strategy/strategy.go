// Package strategy holds the technical evaluator that turns an indicator
// window into entry, exit and scaling decisions for long positions.
package strategy

import (
	"fmt"
	"time"

	"cryptoScalper/internal/domain"
)

// Config holds the technical thresholds. Everything heuristic lives here.
type Config struct {
	RSIEntryThreshold     float64 `yaml:"rsi_entry_threshold"`
	RSIExitThreshold      float64 `yaml:"rsi_exit_threshold"`
	RequireEMACrossover   bool    `yaml:"require_ema_crossover"`    // Previous close below EMA, latest above
	RequireBullishCandle  bool    `yaml:"require_bullish_candle"`   // Latest close above its open
	RequireBelowLowerBand bool    `yaml:"require_below_lower_band"` // Latest close under the lower band

	TakeProfitATRMultiplier float64 `yaml:"take_profit_atr_multiplier"`
	StopLossATRMultiplier   float64 `yaml:"stop_loss_atr_multiplier"`
	DynamicTPSL             bool    `yaml:"dynamic_tp_sl"`
	VolatilityFactor        float64 `yaml:"volatility_factor"`
	TrailingATRMultiplier   float64 `yaml:"trailing_atr_multiplier"`

	ReversalCandleATRMultiplier float64       `yaml:"reversal_candle_atr_multiplier"`
	ReversalATRWindow           int           `yaml:"reversal_atr_window"`
	AllowTechnicalExitAtLoss    bool          `yaml:"allow_technical_exit_at_loss"`
	MaxPositionDuration         time.Duration `yaml:"max_position_duration"` // 0 disables

	ScalingEnabled    bool    `yaml:"scaling_enabled"`
	MaxScaleCount     int     `yaml:"max_scale_count"`
	ScaleRSIMax       float64 `yaml:"scale_rsi_max"`
	ScaleProfitStep   float64 `yaml:"scale_profit_step"`   // Required profit ratio grows by this per scale
	ScaleSizeFraction float64 `yaml:"scale_size_fraction"` // Of the initial quantity
}

// DefaultConfig returns the thresholds the scalper runs with.
func DefaultConfig() Config {
	return Config{
		RSIEntryThreshold:           45,
		RSIExitThreshold:            70,
		TakeProfitATRMultiplier:     1.2,
		StopLossATRMultiplier:       1.0,
		VolatilityFactor:            1.0,
		TrailingATRMultiplier:       1.0,
		ReversalCandleATRMultiplier: 0.8,
		ReversalATRWindow:           10,
		ScalingEnabled:              true,
		MaxScaleCount:               2,
		ScaleRSIMax:                 60,
		ScaleProfitStep:             0.005,
		ScaleSizeFraction:           0.5,
	}
}

// Validate checks the thresholds for internal consistency.
func (c Config) Validate() error {
	if c.RSIEntryThreshold <= 0 || c.RSIEntryThreshold >= 100 {
		return fmt.Errorf("rsi entry threshold must be in (0,100), got %f", c.RSIEntryThreshold)
	}
	if c.RSIExitThreshold <= c.RSIEntryThreshold || c.RSIExitThreshold > 100 {
		return fmt.Errorf("rsi exit threshold must be above the entry threshold and at most 100")
	}
	if c.TakeProfitATRMultiplier <= 0 || c.StopLossATRMultiplier <= 0 || c.TrailingATRMultiplier <= 0 {
		return fmt.Errorf("ATR multipliers must be positive")
	}
	if c.VolatilityFactor <= 0 {
		return fmt.Errorf("volatility factor must be positive")
	}
	if c.ReversalATRWindow <= 0 || c.ReversalCandleATRMultiplier <= 0 {
		return fmt.Errorf("reversal candle parameters must be positive")
	}
	if c.MaxPositionDuration < 0 {
		return fmt.Errorf("max position duration cannot be negative")
	}
	if c.ScalingEnabled {
		if c.MaxScaleCount < 0 || c.ScaleProfitStep <= 0 || c.ScaleSizeFraction <= 0 {
			return fmt.Errorf("invalid scaling parameters")
		}
	}
	return nil
}

// Evaluator implements the technical entry/exit rules. All methods are pure.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates a technical evaluator.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg}, nil
}

// Config returns the evaluator thresholds.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// EvaluateEntry tests the entry conjunction on the latest two rows.
func (e *Evaluator) EvaluateEntry(series domain.IndicatorSeries) (bool, domain.EntrySignal) {
	if len(series) < 2 {
		return false, domain.EntrySignal{}
	}
	latest := series.Last()
	previous := series.Prev()

	data := domain.EntrySignal{
		Price:         latest.Kline.Close,
		RSI:           latest.RSI,
		EMA:           latest.EMAShort,
		Volume:        latest.Kline.Volume,
		VolumeSMA:     latest.VolumeSMA,
		MACDHistogram: latest.MACDHistogram,
		ATR:           latest.ATR,
	}

	entry := latest.RSI < e.cfg.RSIEntryThreshold &&
		latest.Kline.Close > latest.EMAShort &&
		latest.Kline.Volume > latest.VolumeSMA &&
		latest.MACDHistogram > 0
	if e.cfg.RequireEMACrossover {
		entry = entry && previous.Kline.Close < previous.EMAShort
	}
	if e.cfg.RequireBullishCandle {
		entry = entry && latest.Kline.IsBullish()
	}
	if e.cfg.RequireBelowLowerBand {
		entry = entry && latest.Kline.Close < latest.BBLower
	}
	return entry, data
}

// CheckHardExit tests take-profit, stop-loss, trailing-stop and holding-time
// rules against the live price. These always win over technical signals.
func (e *Evaluator) CheckHardExit(pos *domain.Position, price float64, now time.Time) (bool, domain.CloseReason, string) {
	switch {
	case price >= pos.TakeProfitPrice:
		return true, domain.CloseReasonTakeProfit, fmt.Sprintf("take profit hit at %.8g (target %.8g)", price, pos.TakeProfitPrice)
	case price <= pos.StopLossPrice:
		return true, domain.CloseReasonStopLoss, fmt.Sprintf("stop loss hit at %.8g (stop %.8g)", price, pos.StopLossPrice)
	case price <= pos.TrailingStopPrice:
		return true, domain.CloseReasonTrailingStop, fmt.Sprintf("trailing stop hit at %.8g (trail %.8g)", price, pos.TrailingStopPrice)
	}
	if e.cfg.MaxPositionDuration > 0 && now.Sub(pos.OpenedAt) >= e.cfg.MaxPositionDuration {
		return true, domain.CloseReasonTimeLimit, fmt.Sprintf("position held longer than %s", e.cfg.MaxPositionDuration)
	}
	return false, "", ""
}

// EvaluateExit tests the technical deterioration rules. They fire only while
// price is at or above the average entry unless exits at a loss are allowed.
func (e *Evaluator) EvaluateExit(series domain.IndicatorSeries, pos *domain.Position, price float64) (bool, domain.CloseReason, string) {
	if len(series) < 2 {
		return false, "", ""
	}
	if price < pos.EntryPrice && !e.cfg.AllowTechnicalExitAtLoss {
		return false, "", ""
	}
	latest := series.Last()
	previous := series.Prev()

	if latest.RSI > e.cfg.RSIExitThreshold && latest.MACDHistogram < 0 {
		return true, domain.CloseReasonRSIWeakMomentum, fmt.Sprintf("RSI %.2f above %.2f with negative MACD", latest.RSI, e.cfg.RSIExitThreshold)
	}
	if previous.MACDHistogram > 0 && latest.MACDHistogram < 0 && price > pos.EntryPrice {
		return true, domain.CloseReasonMACDCrossDown, "MACD histogram turned negative while in profit"
	}
	if latest.Kline.IsBearish() {
		avgATR := series.MeanATR(e.cfg.ReversalATRWindow)
		if avgATR > 0 && latest.Kline.Body() > avgATR*e.cfg.ReversalCandleATRMultiplier {
			return true, domain.CloseReasonStrongReversal, fmt.Sprintf("bearish body %.8g above %.2f x mean ATR", latest.Kline.Body(), e.cfg.ReversalCandleATRMultiplier)
		}
		if latest.MACDHistogram < 0 {
			return true, domain.CloseReasonBearishReversal, "bearish candle with negative MACD"
		}
	}
	return false, "", ""
}

// TakeProfitStopLoss derives the initial exit levels from the entry price and ATR.
func (e *Evaluator) TakeProfitStopLoss(entryPrice, atr, rsi float64) (tp, sl float64) {
	tpMult := e.cfg.TakeProfitATRMultiplier
	slMult := e.cfg.StopLossATRMultiplier
	if e.cfg.DynamicTPSL {
		var tierTP, tierSL float64
		switch {
		case rsi <= 35:
			tierTP, tierSL = 2.0, 0.8
		case rsi <= 45:
			tierTP, tierSL = 1.6, 0.9
		default:
			tierTP, tierSL = 1.3, 1.0
		}
		tpMult *= tierTP * e.cfg.VolatilityFactor
		slMult *= tierSL * e.cfg.VolatilityFactor
	}
	return entryPrice + atr*tpMult, entryPrice - atr*slMult
}

// UpdateTrailingStop returns the candidate trailing level and whether it
// tightens the current one. The level never moves down.
func (e *Evaluator) UpdateTrailingStop(pos *domain.Position, price, atr float64) (float64, bool) {
	if atr <= 0 {
		return pos.TrailingStopPrice, false
	}
	candidate := price - e.cfg.TrailingATRMultiplier*atr
	if candidate > pos.TrailingStopPrice {
		return candidate, true
	}
	return pos.TrailingStopPrice, false
}

// ShouldScale decides whether to add to a profitable position and returns the
// quantity to add.
func (e *Evaluator) ShouldScale(series domain.IndicatorSeries, pos *domain.Position, price float64) (bool, float64) {
	if !e.cfg.ScalingEnabled || len(series) < 2 {
		return false, 0
	}
	if pos.ScaleCount >= e.cfg.MaxScaleCount || price <= pos.EntryPrice {
		return false, 0
	}
	latest := series.Last()
	if latest.RSI > e.cfg.ScaleRSIMax || latest.MACDHistogram <= 0 {
		return false, 0
	}
	required := e.cfg.ScaleProfitStep * float64(pos.ScaleCount+1)
	if pos.ProfitRatio(price) < required {
		return false, 0
	}
	base := pos.InitialQuantity
	if base <= 0 {
		base = pos.Quantity
	}
	return true, base * e.cfg.ScaleSizeFraction
}
