package indicators

import (
	"fmt"
	"math"
)

// BollingerResult holds the aligned band series.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes SMA(period) bands widened by k population standard deviations.
func Bollinger(closes []float64, period int, k float64) (*BollingerResult, error) {
	middle, err := SMA(closes, period)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid Bollinger deviation multiplier %f", k)
	}
	res := &BollingerResult{
		Upper:  make([]float64, len(closes)),
		Middle: middle,
		Lower:  make([]float64, len(closes)),
	}
	for i := period - 1; i < len(closes); i++ {
		variance := 0.0
		for _, c := range closes[i-period+1 : i+1] {
			d := c - middle[i]
			variance += d * d
		}
		std := math.Sqrt(variance / float64(period))
		res.Upper[i] = middle[i] + k*std
		res.Lower[i] = middle[i] - k*std
	}
	return res, nil
}
