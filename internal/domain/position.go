package domain

import (
	"errors"
	"time"
)

// Position is the single open long position held for a symbol.
type Position struct {
	Symbol            string
	EntryPrice        float64 // Average entry price, recomputed on every scale-in
	Quantity          float64
	InitialQuantity   float64 // Quantity of the first fill; scale-ins are sized from it
	EntryFee          float64 // Accumulated fees paid on every buy fill
	TakeProfitPrice   float64
	StopLossPrice     float64
	TrailingStopPrice float64
	ScaleCount        int
	OpenedAt          time.Time
	UpdatedAt         time.Time
}

// Validate checks the structural invariants of a position record.
func (p *Position) Validate() error {
	if p == nil {
		return errors.New("position is nil")
	}
	if p.Symbol == "" {
		return errors.New("position symbol is empty")
	}
	if p.Quantity <= 0 {
		return errors.New("position quantity must be positive")
	}
	if p.EntryPrice <= 0 {
		return errors.New("position entry price must be positive")
	}
	return nil
}

// Clone returns a copy that can be mutated without touching the original.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// UnrealizedPnL returns the gross result of closing at price, before exit fees.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity
}

// ProfitRatio returns the fractional price move from the average entry.
func (p *Position) ProfitRatio(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}
