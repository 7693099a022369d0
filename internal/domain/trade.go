package domain

import "time"

// Trade represents a completed round trip, appended to history when a position closes.
type Trade struct {
	ID          int64
	Symbol      string
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	EntryFee    float64
	ExitFee     float64
	PNL         float64 // Net of entry and exit fees
	ScaleCount  int
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}
