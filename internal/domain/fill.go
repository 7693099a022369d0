package domain

import "github.com/shopspring/decimal"

// Fill is a confirmed execution of a market order.
type Fill struct {
	OrderID  string
	Price    float64 // Quantity-weighted average fill price
	Quantity float64
	Fee      float64 // Fee in quote currency
}

// NetPnL returns the realized result of a round trip net of both fees:
// (exit*qty - exitFee) - (entry*qty + entryFee). Computed in decimal to avoid drift.
func NetPnL(entryPrice, exitPrice, quantity, entryFee, exitFee float64) float64 {
	q := decimal.NewFromFloat(quantity)
	proceeds := decimal.NewFromFloat(exitPrice).Mul(q).Sub(decimal.NewFromFloat(exitFee))
	cost := decimal.NewFromFloat(entryPrice).Mul(q).Add(decimal.NewFromFloat(entryFee))
	pnl, _ := proceeds.Sub(cost).Float64()
	return pnl
}

// AveragePrice returns the quantity-weighted price of two lots.
func AveragePrice(price1, qty1, price2, qty2 float64) float64 {
	q1 := decimal.NewFromFloat(qty1)
	q2 := decimal.NewFromFloat(qty2)
	total := q1.Add(q2)
	if total.IsZero() {
		return 0
	}
	avg, _ := decimal.NewFromFloat(price1).Mul(q1).Add(decimal.NewFromFloat(price2).Mul(q2)).Div(total).Float64()
	return avg
}

// FeeFor returns notional * rate.
func FeeFor(price, quantity, rate float64) float64 {
	fee, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity)).Mul(decimal.NewFromFloat(rate)).Float64()
	return fee
}
