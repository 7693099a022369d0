package ports

import (
	"context"

	"cryptoScalper/internal/domain"
)

// MarketData retrieves candles, depth and prices from the exchange.
type MarketData interface {
	// GetRecentKlines returns the last limit candles, oldest first.
	GetRecentKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error)
	// GetOrderBook returns a depth snapshot limited to depth levels per side.
	GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error)
	// GetCurrentPrice returns the last traded price.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// ExecutionGateway places market orders. Orders either fill completely or fail.
type ExecutionGateway interface {
	ExecuteBuy(ctx context.Context, symbol string, quantity float64) (*domain.Fill, error)
	ExecuteSell(ctx context.Context, symbol string, quantity float64) (*domain.Fill, error)
}

// BalanceProvider reports free balance for an asset (e.g., "USDT").
type BalanceProvider interface {
	GetFreeBalance(ctx context.Context, asset string) (float64, error)
}
