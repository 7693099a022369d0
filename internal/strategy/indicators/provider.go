package indicators

import (
	"fmt"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"
)

// Config holds the indicator periods used to build a series.
type Config struct {
	RSIPeriod       int     `yaml:"rsi_period"`
	EMAShortPeriod  int     `yaml:"ema_short_period"`
	EMALongPeriod   int     `yaml:"ema_long_period"`
	MACDFast        int     `yaml:"macd_fast"`
	MACDSlow        int     `yaml:"macd_slow"`
	MACDSignal      int     `yaml:"macd_signal"`
	ATRPeriod       int     `yaml:"atr_period"`
	VolumeSMAPeriod int     `yaml:"volume_sma_period"`
	BBPeriod        int     `yaml:"bb_period"`
	BBStdDev        float64 `yaml:"bb_stddev"`
}

// DefaultConfig returns the periods the scalping engine runs with.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:       14,
		EMAShortPeriod:  14,
		EMALongPeriod:   21,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		ATRPeriod:       14,
		VolumeSMAPeriod: 25,
		BBPeriod:        20,
		BBStdDev:        2.0,
	}
}

// Validate checks that every period is usable.
func (c Config) Validate() error {
	if c.RSIPeriod <= 0 || c.EMAShortPeriod <= 0 || c.EMALongPeriod <= 0 || c.ATRPeriod <= 0 ||
		c.VolumeSMAPeriod <= 0 || c.BBPeriod <= 0 {
		return fmt.Errorf("indicator periods must be positive")
	}
	if c.MACDFast <= 0 || c.MACDSlow <= c.MACDFast || c.MACDSignal <= 0 {
		return fmt.Errorf("invalid MACD periods %d/%d/%d", c.MACDFast, c.MACDSlow, c.MACDSignal)
	}
	if c.BBStdDev <= 0 {
		return fmt.Errorf("bollinger deviation multiplier must be positive")
	}
	return nil
}

// Provider implements ports.IndicatorProvider.
type Provider struct {
	cfg    Config
	warmup int
}

var _ ports.IndicatorProvider = (*Provider)(nil)

// NewProvider creates an indicator provider for cfg.
func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg, warmup: cfg.warmup()}, nil
}

// warmup is the index of the first candle at which every indicator is defined.
func (c Config) warmup() int {
	return maxInt(
		c.RSIPeriod,
		c.EMAShortPeriod-1,
		c.EMALongPeriod-1,
		c.MACDSlow+c.MACDSignal-2,
		c.ATRPeriod,
		c.VolumeSMAPeriod-1,
		c.BBPeriod-1,
	)
}

// RequiredCandles returns the candles needed to produce two aligned rows.
func (c Config) RequiredCandles() int {
	return c.warmup() + 2
}

// RequiredDataPoints returns the candles needed to produce two aligned rows.
func (p *Provider) RequiredDataPoints() int {
	return p.warmup + 2
}

// Compute builds the aligned series. Rows start at the first candle where every
// indicator is defined, so the result always has at least two rows.
func (p *Provider) Compute(klines []domain.Kline) (domain.IndicatorSeries, error) {
	if len(klines) < p.RequiredDataPoints() {
		return nil, fmt.Errorf("%w: have %d candles, need %d", ports.ErrInsufficientData, len(klines), p.RequiredDataPoints())
	}

	closes := make([]float64, len(klines))
	volumes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
		volumes[i] = k.Volume
	}

	rsi, err := RSI(closes, p.cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}
	emaShort, err := EMA(closes, p.cfg.EMAShortPeriod)
	if err != nil {
		return nil, err
	}
	emaLong, err := EMA(closes, p.cfg.EMALongPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := MACD(closes, p.cfg.MACDFast, p.cfg.MACDSlow, p.cfg.MACDSignal)
	if err != nil {
		return nil, err
	}
	atr, err := ATR(klines, p.cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}
	volSMA, err := SMA(volumes, p.cfg.VolumeSMAPeriod)
	if err != nil {
		return nil, err
	}
	bands, err := Bollinger(closes, p.cfg.BBPeriod, p.cfg.BBStdDev)
	if err != nil {
		return nil, err
	}

	series := make(domain.IndicatorSeries, 0, len(klines)-p.warmup)
	for i := p.warmup; i < len(klines); i++ {
		series = append(series, domain.IndicatorRow{
			Kline:         klines[i],
			RSI:           rsi[i],
			EMAShort:      emaShort[i],
			EMALong:       emaLong[i],
			MACD:          macd.MACD[i],
			MACDSignal:    macd.Signal[i],
			MACDHistogram: macd.Histogram[i],
			ATR:           atr[i],
			VolumeSMA:     volSMA[i],
			BBUpper:       bands.Upper[i],
			BBMiddle:      bands.Middle[i],
			BBLower:       bands.Lower[i],
		})
	}
	return series, nil
}

func maxInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
