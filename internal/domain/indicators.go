package domain

// IndicatorRow is one aligned row of precomputed indicator values for a candle.
type IndicatorRow struct {
	Kline         Kline
	RSI           float64
	EMAShort      float64
	EMALong       float64
	MACD          float64
	MACDSignal    float64
	MACDHistogram float64
	ATR           float64
	VolumeSMA     float64
	BBUpper       float64
	BBMiddle      float64
	BBLower       float64
}

// IndicatorSeries is an ordered, oldest-first window of indicator rows.
type IndicatorSeries []IndicatorRow

// Last returns the newest row. The caller must ensure the series is not empty.
func (s IndicatorSeries) Last() IndicatorRow {
	return s[len(s)-1]
}

// Prev returns the row before the newest. The caller must ensure len >= 2.
func (s IndicatorSeries) Prev() IndicatorRow {
	return s[len(s)-2]
}

// Candles returns the klines backing the series.
func (s IndicatorSeries) Candles() []Kline {
	out := make([]Kline, len(s))
	for i, r := range s {
		out[i] = r.Kline
	}
	return out
}

// MeanATR returns the mean ATR of the last n rows.
func (s IndicatorSeries) MeanATR(n int) float64 {
	if n <= 0 || len(s) == 0 {
		return 0
	}
	if n > len(s) {
		n = len(s)
	}
	sum := 0.0
	for _, r := range s[len(s)-n:] {
		sum += r.ATR
	}
	return sum / float64(n)
}

// BandPositionOf classifies a close against the row's Bollinger bands.
func (r IndicatorRow) BandPositionOf(price float64) BandPosition {
	if r.BBUpper == 0 && r.BBLower == 0 {
		return BandPositionUnknown
	}
	switch {
	case price > r.BBUpper:
		return BandAboveUpper
	case price < r.BBLower:
		return BandBelowLower
	case price >= r.BBMiddle:
		return BandMiddleToUpper
	default:
		return BandMiddleToLower
	}
}

// EntrySignal carries the values that supported an entry decision.
type EntrySignal struct {
	Price         float64
	RSI           float64
	EMA           float64
	Volume        float64
	VolumeSMA     float64
	MACDHistogram float64
	ATR           float64
}
