// Package fusion combines independent market-pressure readings into a single
// directional category.
package fusion

import (
	"fmt"
	"math"

	"cryptoScalper/internal/domain"
)

// Config holds the significance thresholds of each sub-signal.
type Config struct {
	OrderBookThreshold   float64 `yaml:"orderbook_threshold"`    // Fraction of total depth volume
	OrderBookDepth       int     `yaml:"orderbook_depth"`        // Levels per side considered
	DeltaVolumeThreshold float64 `yaml:"delta_volume_threshold"` // Fraction of the last candle volume
	CVDThreshold         float64 `yaml:"cvd_threshold"`          // Fraction of the average candle volume
	CVDLookback          int     `yaml:"cvd_lookback"`
	ExtremeBandWeight    float64 `yaml:"extreme_band_weight"`
	InnerBandWeight      float64 `yaml:"inner_band_weight"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		OrderBookThreshold:   0.05,
		OrderBookDepth:       20,
		DeltaVolumeThreshold: 0.1,
		CVDThreshold:         0.2,
		CVDLookback:          20,
		ExtremeBandWeight:    1.0,
		InnerBandWeight:      0.5,
	}
}

// Validate rejects thresholds that would make a sub-signal meaningless.
func (c Config) Validate() error {
	if c.OrderBookThreshold < 0 || c.OrderBookThreshold >= 1 {
		return fmt.Errorf("orderbook threshold must be in [0,1), got %f", c.OrderBookThreshold)
	}
	if c.OrderBookDepth <= 0 {
		return fmt.Errorf("orderbook depth must be positive, got %d", c.OrderBookDepth)
	}
	if c.DeltaVolumeThreshold < 0 || c.CVDThreshold < 0 {
		return fmt.Errorf("volume thresholds cannot be negative")
	}
	if c.CVDLookback <= 0 {
		return fmt.Errorf("cvd lookback must be positive, got %d", c.CVDLookback)
	}
	if c.ExtremeBandWeight < 0 || c.InnerBandWeight < 0 {
		return fmt.Errorf("band weights cannot be negative")
	}
	return nil
}

// Input is everything a fusion computation reads. Any field may be missing.
type Input struct {
	OrderBook *domain.OrderBook
	Candles   []domain.Kline // Oldest first; the last element is the latest candle
	Band      domain.BandPosition
}

// Unit computes fusion signals. It holds no mutable state.
type Unit struct {
	cfg Config
}

// NewUnit creates a fusion unit.
func NewUnit(cfg Config) (*Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Unit{cfg: cfg}, nil
}

// Config returns the thresholds the unit runs with.
func (u *Unit) Config() Config {
	return u.cfg
}

// Compute fuses the sub-signals. It never fails: missing inputs degrade the
// affected sub-signal to NEUTRAL.
func (u *Unit) Compute(in Input) domain.FusionSignal {
	sig := domain.FusionSignal{
		OrderBookBias:   domain.BiasNeutral,
		DeltaVolumeBias: domain.BiasNeutral,
		CVDBias:         domain.BiasNeutral,
		BandPosition:    in.Band,
	}
	if sig.BandPosition == "" {
		sig.BandPosition = domain.BandPositionUnknown
	}

	sig.OrderBookBias, sig.OrderBookRatio = u.orderBookBias(in.OrderBook)
	sig.DeltaVolumeBias, sig.DeltaVolume = u.deltaVolumeBias(in.Candles)
	sig.CVDBias, sig.CVD = u.cvdBias(in.Candles)

	var buy, sell float64
	for _, b := range []domain.Bias{sig.OrderBookBias, sig.DeltaVolumeBias, sig.CVDBias} {
		switch b {
		case domain.BiasBuy:
			buy++
		case domain.BiasSell:
			sell++
		}
	}

	// Bands only reinforce a side that already has factors.
	switch sig.BandPosition {
	case domain.BandBelowLower:
		if buy > 0 {
			buy += u.cfg.ExtremeBandWeight
		}
	case domain.BandAboveUpper:
		if sell > 0 {
			sell += u.cfg.ExtremeBandWeight
		}
	case domain.BandMiddleToLower:
		if buy > 0 && sig.DeltaVolume > 0 {
			buy += u.cfg.InnerBandWeight
		}
	case domain.BandMiddleToUpper:
		if sell > 0 && sig.DeltaVolume < 0 {
			sell += u.cfg.InnerBandWeight
		}
	}

	sig.BuyFactors = buy
	sig.SellFactors = sell
	sig.Category = categorize(buy, sell)
	return sig
}

func categorize(buy, sell float64) domain.SignalCategory {
	if buy > 0 && sell > 0 {
		return domain.Neutral
	}
	switch {
	case buy >= 3:
		return domain.BuyAggressive
	case buy >= 2:
		return domain.BuyModerate
	case buy >= 1:
		return domain.BuyWeak
	case sell >= 3:
		return domain.SellAggressive
	case sell >= 2:
		return domain.SellModerate
	case sell >= 1:
		return domain.SellWeak
	}
	return domain.Neutral
}

func (u *Unit) orderBookBias(book *domain.OrderBook) (domain.Bias, float64) {
	if book.IsEmpty() {
		return domain.BiasNeutral, 0
	}
	bids := book.Bids
	if len(bids) > u.cfg.OrderBookDepth {
		bids = bids[:u.cfg.OrderBookDepth]
	}
	asks := book.Asks
	if len(asks) > u.cfg.OrderBookDepth {
		asks = asks[:u.cfg.OrderBookDepth]
	}
	trimmed := domain.OrderBook{Bids: bids, Asks: asks}
	bidVol, askVol := trimmed.Volumes()
	total := bidVol + askVol
	if total <= 0 {
		return domain.BiasNeutral, 0
	}
	ratio := (bidVol - askVol) / total
	switch {
	case ratio > u.cfg.OrderBookThreshold:
		return domain.BiasBuy, ratio
	case ratio < -u.cfg.OrderBookThreshold:
		return domain.BiasSell, ratio
	default:
		return domain.BiasNeutral, ratio
	}
}

func (u *Unit) deltaVolumeBias(candles []domain.Kline) (domain.Bias, float64) {
	if len(candles) == 0 {
		return domain.BiasNeutral, 0
	}
	last := candles[len(candles)-1]
	delta := last.DeltaVolume()
	if last.Volume <= 0 || math.Abs(delta) <= u.cfg.DeltaVolumeThreshold*last.Volume {
		return domain.BiasNeutral, delta
	}
	if delta > 0 {
		return domain.BiasBuy, delta
	}
	return domain.BiasSell, delta
}

func (u *Unit) cvdBias(candles []domain.Kline) (domain.Bias, float64) {
	if len(candles) < u.cfg.CVDLookback {
		return domain.BiasNeutral, 0
	}
	var cvd, total float64
	for _, k := range candles[len(candles)-u.cfg.CVDLookback:] {
		cvd += k.DeltaVolume()
		total += k.Volume
	}
	avg := total / float64(u.cfg.CVDLookback)
	if avg <= 0 || math.Abs(cvd) <= u.cfg.CVDThreshold*avg {
		return domain.BiasNeutral, cvd
	}
	if cvd > 0 {
		return domain.BiasBuy, cvd
	}
	return domain.BiasSell, cvd
}
