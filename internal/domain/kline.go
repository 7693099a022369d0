package domain

import "time"

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "1m", "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
}

// IsBullish reports whether the candle closed above its open.
func (k *Kline) IsBullish() bool {
	return k.Close > k.Open
}

// IsBearish reports whether the candle closed below its open.
func (k *Kline) IsBearish() bool {
	return k.Close < k.Open
}

// Body returns the absolute size of the candle body.
func (k *Kline) Body() float64 {
	if k.Close > k.Open {
		return k.Close - k.Open
	}
	return k.Open - k.Close
}

// DeltaVolume is the candle volume signed by its direction; doji candles count as zero.
func (k *Kline) DeltaVolume() float64 {
	switch {
	case k.Close > k.Open:
		return k.Volume
	case k.Close < k.Open:
		return -k.Volume
	default:
		return 0
	}
}
