package indicators

import (
	"fmt"
	"math"

	"cryptoScalper/internal/domain"
)

// ATR returns the Average True Range series using Wilder's smoothing.
// The first valid value is at index period-1.
func ATR(klines []domain.Kline, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("invalid ATR period %d", period)
	}
	if len(klines) < period+1 {
		return nil, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(klines))
	}

	trueRanges := make([]float64, len(klines))

	// First TR is just the high-low range
	trueRanges[0] = klines[0].High - klines[0].Low

	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		// True Range is the greatest of:
		// 1. Current High - Current Low
		// 2. |Current High - Previous Close|
		// 3. |Current Low - Previous Close|
		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)

		trueRanges[i] = math.Max(tr1, math.Max(tr2, tr3))
	}

	// Wilder seed: simple average of the first 'period' true ranges
	out := make([]float64, len(klines))
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)
	out[period-1] = atr

	// Smooth the remaining periods, one value per candle
	for i := period; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
		out[i] = atr
	}
	return out, nil
}
