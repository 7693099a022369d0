package domain

import "strings"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonTakeProfit      CloseReason = "TAKE_PROFIT"
	CloseReasonStopLoss        CloseReason = "STOP_LOSS"
	CloseReasonTrailingStop    CloseReason = "TRAILING_STOP"
	CloseReasonTimeLimit       CloseReason = "TIME_LIMIT"
	CloseReasonRSIWeakMomentum CloseReason = "RSI_HIGH_WEAK_MACD"
	CloseReasonBearishReversal CloseReason = "BEARISH_REVERSAL"
	CloseReasonMACDCrossDown   CloseReason = "MACD_CROSS_DOWN"
	CloseReasonStrongReversal  CloseReason = "STRONG_REVERSAL_CANDLE"
	CloseReasonSellPressure    CloseReason = "SELL_PRESSURE"
	CloseReasonEmergency       CloseReason = "EMERGENCY"
	CloseReasonUnknown         CloseReason = "Unknown"
)

// IsHard reports whether the reason comes from a price-level crossing or a time rule.
func (r CloseReason) IsHard() bool {
	switch r {
	case CloseReasonTakeProfit, CloseReasonStopLoss, CloseReasonTrailingStop, CloseReasonTimeLimit:
		return true
	default:
		return false
	}
}

// NormalizeSymbol returns the canonical upper-case symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
