package domain

import "time"

// PriceLevel is a single price/quantity pair of an order book side.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a depth snapshot for one symbol.
type OrderBook struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Volumes returns the summed bid and ask quantities.
func (o *OrderBook) Volumes() (bid, ask float64) {
	if o == nil {
		return 0, 0
	}
	for _, l := range o.Bids {
		bid += l.Quantity
	}
	for _, l := range o.Asks {
		ask += l.Quantity
	}
	return bid, ask
}

// IsEmpty reports whether the snapshot carries no liquidity on either side.
func (o *OrderBook) IsEmpty() bool {
	return o == nil || (len(o.Bids) == 0 && len(o.Asks) == 0)
}
