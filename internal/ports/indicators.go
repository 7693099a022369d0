package ports

import "cryptoScalper/internal/domain"

// IndicatorProvider turns a candle series into aligned indicator rows.
// Implementations return ErrInsufficientData when the window is too short.
type IndicatorProvider interface {
	Compute(klines []domain.Kline) (domain.IndicatorSeries, error)
	// RequiredDataPoints is the minimum number of candles Compute needs.
	RequiredDataPoints() int
}
