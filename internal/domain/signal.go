package domain

// Bias is the direction of a single pressure sub-signal.
type Bias string

const (
	BiasBuy     Bias = "BUY_BIAS"
	BiasSell    Bias = "SELL_BIAS"
	BiasNeutral Bias = "NEUTRAL"
)

// BandPosition locates the last close relative to the volatility bands.
type BandPosition string

const (
	BandAboveUpper      BandPosition = "ABOVE_UPPER"
	BandBelowLower      BandPosition = "BELOW_LOWER"
	BandMiddleToUpper   BandPosition = "BETWEEN_MIDDLE_AND_UPPER"
	BandMiddleToLower   BandPosition = "BETWEEN_MIDDLE_AND_LOWER"
	BandPositionUnknown BandPosition = "UNKNOWN"
)

// SignalCategory is the aggregated directional strength of the fused pressure signals.
type SignalCategory string

const (
	BuyAggressive  SignalCategory = "BUY_AGGRESSIVE"
	BuyModerate    SignalCategory = "BUY_MODERATE"
	BuyWeak        SignalCategory = "BUY_WEAK"
	SellAggressive SignalCategory = "SELL_AGGRESSIVE"
	SellModerate   SignalCategory = "SELL_MODERATE"
	SellWeak       SignalCategory = "SELL_WEAK"
	Neutral        SignalCategory = "NEUTRAL"
)

// IsBuyAtLeastModerate reports whether the category is a non-weak buy.
func (c SignalCategory) IsBuyAtLeastModerate() bool {
	return c == BuyAggressive || c == BuyModerate
}

// IsSellAtLeastModerate reports whether the category is a non-weak sell.
func (c SignalCategory) IsSellAtLeastModerate() bool {
	return c == SellAggressive || c == SellModerate
}

// Valid reports whether c is one of the defined categories.
func (c SignalCategory) Valid() bool {
	switch c {
	case BuyAggressive, BuyModerate, BuyWeak, SellAggressive, SellModerate, SellWeak, Neutral:
		return true
	}
	return false
}

// FusionSignal is the per-tick result of combining the pressure sub-signals.
type FusionSignal struct {
	OrderBookBias   Bias
	OrderBookRatio  float64
	DeltaVolumeBias Bias
	DeltaVolume     float64
	CVDBias         Bias
	CVD             float64
	BandPosition    BandPosition
	BuyFactors      float64
	SellFactors     float64
	Category        SignalCategory
}

// Confidence maps the category onto the sizing confidence score in [0,1].
func (s FusionSignal) Confidence() float64 {
	switch s.Category {
	case BuyAggressive, SellAggressive:
		return 1.0
	case BuyModerate, SellModerate:
		return 0.75
	case BuyWeak, SellWeak:
		return 0.5
	default:
		return 0
	}
}
