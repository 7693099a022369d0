// Package paper simulates order execution against live prices for dry runs.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultFeeRate mirrors the exchange taker fee with the BNB discount.
const DefaultFeeRate = 0.00075

// Gateway fills every market order at the current price reported by MarketData
// and tracks simulated balances.
type Gateway struct {
	market     ports.MarketData
	logger     ports.Logger
	feeRate    decimal.Decimal
	quoteAsset string

	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

var (
	_ ports.ExecutionGateway = (*Gateway)(nil)
	_ ports.BalanceProvider  = (*Gateway)(nil)
)

// Config holds paper trading parameters.
type Config struct {
	QuoteAsset    string
	InitialEquity float64
	FeeRate       float64
	Logger        ports.Logger
}

// New creates a paper gateway funded with cfg.InitialEquity of the quote asset.
func New(market ports.MarketData, cfg Config) (*Gateway, error) {
	if market == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("%w: paper gateway requires market data and a logger", ports.ErrConfigurationError)
	}
	if cfg.InitialEquity <= 0 {
		return nil, fmt.Errorf("%w: paper equity must be positive", ports.ErrConfigurationError)
	}
	rate := cfg.FeeRate
	if rate <= 0 {
		rate = DefaultFeeRate
	}
	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = "USDT"
	}
	return &Gateway{
		market:     market,
		logger:     cfg.Logger,
		feeRate:    decimal.NewFromFloat(rate),
		quoteAsset: quote,
		balances:   map[string]decimal.Decimal{quote: decimal.NewFromFloat(cfg.InitialEquity)},
	}, nil
}

// GetFreeBalance returns the simulated balance of asset.
func (g *Gateway) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bal, _ := g.balances[strings.ToUpper(asset)].Float64()
	return bal, nil
}

// ExecuteBuy spends quote balance for quantity at the live price plus fee.
func (g *Gateway) ExecuteBuy(ctx context.Context, symbol string, quantity float64) (*domain.Fill, error) {
	return g.execute(ctx, symbol, domain.Buy, quantity)
}

// ExecuteSell sells quantity of the base asset at the live price minus fee.
func (g *Gateway) ExecuteSell(ctx context.Context, symbol string, quantity float64) (*domain.Fill, error) {
	return g.execute(ctx, symbol, domain.Sell, quantity)
}

func (g *Gateway) execute(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*domain.Fill, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ports.ErrInvalidRequest)
	}
	price, err := g.market.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: paper %s price lookup: %w", ports.ErrExecutionFailed, side, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: paper %s got non-positive price %v", ports.ErrExecutionFailed, side, price)
	}

	base := strings.TrimSuffix(symbol, g.quoteAsset)
	qty := decimal.NewFromFloat(quantity)
	notional := decimal.NewFromFloat(price).Mul(qty)
	fee := notional.Mul(g.feeRate)

	g.mu.Lock()
	switch side {
	case domain.Buy:
		cost := notional.Add(fee)
		if g.balances[g.quoteAsset].LessThan(cost) {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: paper buy of %s needs %s %s", ports.ErrInsufficientFunds, symbol, cost.StringFixed(2), g.quoteAsset)
		}
		g.balances[g.quoteAsset] = g.balances[g.quoteAsset].Sub(cost)
		g.balances[base] = g.balances[base].Add(qty)
	case domain.Sell:
		if g.balances[base].LessThan(qty) {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: paper sell of %s exceeds held %s", ports.ErrInsufficientFunds, symbol, g.balances[base].String())
		}
		g.balances[base] = g.balances[base].Sub(qty)
		g.balances[g.quoteAsset] = g.balances[g.quoteAsset].Add(notional.Sub(fee))
	}
	g.mu.Unlock()

	feeF, _ := fee.Float64()
	fill := &domain.Fill{
		OrderID:  "paper-" + uuid.NewString(),
		Price:    price,
		Quantity: quantity,
		Fee:      feeF,
	}
	g.logger.Info(ctx, "Paper order filled", map[string]interface{}{
		"symbol":   symbol,
		"side":     string(side),
		"quantity": quantity,
		"price":    price,
		"fee":      feeF,
		"orderID":  fill.OrderID,
	})
	return fill, nil
}
