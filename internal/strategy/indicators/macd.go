package indicators

import "fmt"

// MACDResult holds the aligned MACD line, signal line and histogram.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
	// Start is the first index where all three series are valid.
	Start int
}

// MACD computes EMA(fast)-EMA(slow), its EMA(signal) and the difference.
func MACD(closes []float64, fast, slow, signal int) (*MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return nil, fmt.Errorf("invalid MACD periods fast=%d slow=%d signal=%d", fast, slow, signal)
	}
	start := slow - 1 + signal - 1
	if len(closes) <= start {
		return nil, fmt.Errorf("not enough data (%d) to calculate MACD %d/%d/%d", len(closes), fast, slow, signal)
	}
	fastEMA, err := EMA(closes, fast)
	if err != nil {
		return nil, err
	}
	slowEMA, err := EMA(closes, slow)
	if err != nil {
		return nil, err
	}

	line := make([]float64, len(closes))
	for i := slow - 1; i < len(closes); i++ {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig, err := EMA(line[slow-1:], signal)
	if err != nil {
		return nil, err
	}

	res := &MACDResult{
		MACD:      line,
		Signal:    make([]float64, len(closes)),
		Histogram: make([]float64, len(closes)),
		Start:     start,
	}
	for i := start; i < len(closes); i++ {
		res.Signal[i] = sig[i-(slow-1)]
		res.Histogram[i] = line[i] - res.Signal[i]
	}
	return res, nil
}
