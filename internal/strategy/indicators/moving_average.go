package indicators

import "fmt"

// SMA returns the simple moving average series of values. Entries before
// index period-1 are zero.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("invalid SMA period %d", period)
	}
	if len(values) < period {
		return nil, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(values), period)
	}
	out := make([]float64, len(values))
	total := 0.0
	for i, v := range values {
		total += v
		if i >= period {
			total -= values[i-period]
		}
		if i >= period-1 {
			out[i] = total / float64(period)
		}
	}
	return out, nil
}

// EMA returns the exponential moving average series of values, seeded with
// the SMA of the first period values. Entries before index period-1 are zero.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("invalid EMA period %d", period)
	}
	if len(values) < period {
		return nil, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(values), period)
	}
	out := make([]float64, len(values))
	multiplier := 2.0 / float64(period+1)

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)
	out[period-1] = ema

	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out, nil
}
