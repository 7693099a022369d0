package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements the market data, execution and balance ports on the Binance spot API.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
	limiter    *rate.Limiter
	quoteAsset string
	feeRate    float64 // used to value commissions charged in a third asset

	stepMu    sync.Mutex
	stepSizes map[string]decimal.Decimal
}

var (
	_ ports.MarketData       = (*Client)(nil)
	_ ports.ExecutionGateway = (*Client)(nil)
	_ ports.BalanceProvider  = (*Client)(nil)
)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey             string
	SecretKey          string
	UseTestnet         bool
	Logger             ports.Logger
	QuoteAsset         string  // e.g., "USDT"
	RateLimitPerSecond float64 // Shared across every symbol loop
	FeeRate            float64
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	perSecond := cfg.RateLimitPerSecond
	if perSecond <= 0 {
		perSecond = 10
	}
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}

	return &Client{
		spotClient: client,
		logger:     cfg.Logger,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
		quoteAsset: strings.ToUpper(quote),
		feeRate:    cfg.FeeRate,
		stepSizes:  make(map[string]decimal.Decimal),
	}, nil
}

// wait blocks until the shared request budget allows another call.
func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPIError(apiErr.Code)
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	finalErr := classifyTransportError(operation, err)
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// mapAPIError maps Binance spot error codes to port errors.
func mapAPIError(code int64) error {
	switch code {
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1114, -1115, -1116, -1117, -1121: // Parameter/Request format errors
		return ports.ErrInvalidRequest
	case -1013: // Filter failure (LOT_SIZE, MIN_NOTIONAL)
		return ports.ErrInvalidRequest
	case -2010: // New order rejected
		return ports.ErrOrderPlacementFailed
	case -2014: // API-key format invalid
		return ports.ErrInvalidAPIKeys
	case -2015: // Invalid API-key, IP, or permissions for action
		return ports.ErrInvalidAPIKeys
	case -2019, -3005: // Insufficient margin or balance
		return ports.ErrInsufficientFunds
	default:
		return ports.ErrUnknown
	}
}

func classifyTransportError(operation string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetRecentKlines retrieves the latest klines for symbol, oldest first.
func (c *Client) GetRecentKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	op := "GetRecentKlines"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	binanceKlines, err := c.spotClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines := make([]domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		klines = append(klines, dk)
	}
	return klines, nil
}

// GetOrderBook retrieves a depth snapshot for symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	op := "GetOrderBook"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	res, err := c.spotClient.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	book, err := translateDepth(res, symbol)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return book, nil
}

// GetCurrentPrice retrieves the last traded price for symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetCurrentPrice"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err), op)
	}
	return price, nil
}

// GetFreeBalance retrieves the free (unlocked) balance for asset.
func (c *Client) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetFreeBalance"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	account, err := c.spotClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Balances {
		if bal.Asset == asset {
			free, err := strconv.ParseFloat(bal.Free, 64)
			if err != nil {
				return 0, c.handleError(ctx, fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.Free, asset, err), op)
			}
			return free, nil
		}
	}
	// An asset never held is simply absent from the account.
	return 0, nil
}

// ExecuteBuy places a market buy and returns the confirmed fill.
func (c *Client) ExecuteBuy(ctx context.Context, symbol string, quantity float64) (*domain.Fill, error) {
	return c.executeMarket(ctx, symbol, domain.Buy, quantity)
}

// ExecuteSell places a market sell and returns the confirmed fill.
func (c *Client) ExecuteSell(ctx context.Context, symbol string, quantity float64) (*domain.Fill, error) {
	return c.executeMarket(ctx, symbol, domain.Sell, quantity)
}

func (c *Client) executeMarket(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*domain.Fill, error) {
	op := "Execute" + strings.ToUpper(string(side)[:1]) + strings.ToLower(string(side)[1:])

	qty, err := c.formatQuantity(ctx, symbol, quantity)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	clientOrderID := uuid.NewString()
	order, err := c.spotClient.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(qty).
		NewClientOrderID(clientOrderID).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fill, err := translateFill(order, baseAssetOf(symbol, c.quoteAsset), c.quoteAsset, c.feeRate, side)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("%w: %w", ports.ErrExecutionFailed, err), op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":        symbol,
		"quantity":      qty,
		"orderID":       fill.OrderID,
		"clientOrderID": clientOrderID,
		"avgPrice":      fill.Price,
		"fee":           fill.Fee,
	})
	return fill, nil
}

// formatQuantity rounds quantity down to the symbol's LOT_SIZE step.
func (c *Client) formatQuantity(ctx context.Context, symbol string, quantity float64) (string, error) {
	step, err := c.stepSize(ctx, symbol)
	if err != nil {
		return "", err
	}
	q, err := roundToStep(quantity, step)
	if err != nil {
		return "", fmt.Errorf("%w: %s quantity %v: %w", ports.ErrInvalidRequest, symbol, quantity, err)
	}
	return q, nil
}

func (c *Client) stepSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.stepMu.Lock()
	step, ok := c.stepSizes[symbol]
	c.stepMu.Unlock()
	if ok {
		return step, nil
	}

	op := "GetExchangeInfo"
	if err := c.wait(ctx, op); err != nil {
		return decimal.Zero, err
	}
	info, err := c.spotClient.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	step = decimal.Zero
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		if lot := s.LotSizeFilter(); lot != nil {
			if parsed, perr := decimal.NewFromString(lot.StepSize); perr == nil {
				step = parsed
			}
		}
	}

	c.stepMu.Lock()
	c.stepSizes[symbol] = step
	c.stepMu.Unlock()
	c.logger.Debug(ctx, "Lot size step cached", map[string]interface{}{"symbol": symbol, "stepSize": step.String()})
	return step, nil
}

// --- Translation Helpers ---

// roundToStep floors quantity to a multiple of step. A zero step keeps eight decimals.
func roundToStep(quantity float64, step decimal.Decimal) (string, error) {
	q := decimal.NewFromFloat(quantity)
	if step.IsPositive() {
		q = q.Div(step).Floor().Mul(step)
	} else {
		q = q.RoundDown(8)
	}
	if !q.IsPositive() {
		return "", errors.New("rounds to zero")
	}
	return q.String(), nil
}

func baseAssetOf(symbol, quote string) string {
	return strings.TrimSuffix(symbol, quote)
}

// translateFill derives the average price, net base quantity and quote-valued fee of a market order.
func translateFill(order *binance.CreateOrderResponse, baseAsset, quoteAsset string, feeRate float64, side domain.OrderSide) (*domain.Fill, error) {
	if order == nil {
		return nil, errors.New("received nil order response")
	}
	if order.Status != binance.OrderStatusTypeFilled {
		return nil, fmt.Errorf("%w: order %d status %s", ports.ErrOrderNotFilled, order.OrderID, order.Status)
	}

	qty := decimal.Zero
	notional := decimal.Zero
	fee := decimal.Zero
	baseCommission := decimal.Zero
	for _, f := range order.Fills {
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return nil, fmt.Errorf("parsing fill price '%s': %w", f.Price, err)
		}
		q, err := decimal.NewFromString(f.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing fill quantity '%s': %w", f.Quantity, err)
		}
		commission, _ := decimal.NewFromString(f.Commission)

		qty = qty.Add(q)
		notional = notional.Add(price.Mul(q))
		switch f.CommissionAsset {
		case quoteAsset:
			fee = fee.Add(commission)
		case baseAsset:
			fee = fee.Add(commission.Mul(price))
			baseCommission = baseCommission.Add(commission)
		default:
			// Third-asset commissions (e.g. BNB) are valued at the configured rate.
			fee = fee.Add(price.Mul(q).Mul(decimal.NewFromFloat(feeRate)))
		}
	}

	if qty.IsZero() {
		// Some venues omit fills; fall back to the cumulative totals.
		executed, err := decimal.NewFromString(order.ExecutedQuantity)
		if err != nil || !executed.IsPositive() {
			return nil, fmt.Errorf("%w: order %d reported no executed quantity", ports.ErrOrderNotFilled, order.OrderID)
		}
		quote, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
		if err != nil {
			return nil, fmt.Errorf("parsing cumulative quote quantity '%s': %w", order.CummulativeQuoteQuantity, err)
		}
		qty = executed
		notional = quote
		fee = quote.Mul(decimal.NewFromFloat(feeRate))
	}

	avg, _ := notional.Div(qty).Float64()
	net := qty
	if side == domain.Buy {
		net = qty.Sub(baseCommission)
	}
	netQty, _ := net.Float64()
	feeF, _ := fee.Float64()
	return &domain.Fill{
		OrderID:  strconv.FormatInt(order.OrderID, 10),
		Price:    avg,
		Quantity: netQty,
		Fee:      feeF,
	}, nil
}

func translateDepth(res *binance.DepthResponse, symbol string) (*domain.OrderBook, error) {
	if res == nil {
		return nil, errors.New("received nil depth response")
	}
	book := &domain.OrderBook{
		Symbol:    symbol,
		Bids:      make([]domain.PriceLevel, 0, len(res.Bids)),
		Asks:      make([]domain.PriceLevel, 0, len(res.Asks)),
		Timestamp: time.Now(),
	}
	for _, b := range res.Bids {
		lvl, err := parseLevel(b.Price, b.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing bid: %w", err)
		}
		book.Bids = append(book.Bids, lvl)
	}
	for _, a := range res.Asks {
		lvl, err := parseLevel(a.Price, a.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing ask: %w", err)
		}
		book.Asks = append(book.Asks, lvl)
	}
	return book, nil
}

func parseLevel(price, quantity string) (domain.PriceLevel, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("price '%s': %w", price, err)
	}
	q, err := strconv.ParseFloat(quantity, 64)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("quantity '%s': %w", quantity, err)
	}
	return domain.PriceLevel{Price: p, Quantity: q}, nil
}

func translateBinanceKline(bk *binance.Kline, symbol, interval string) (domain.Kline, error) {
	if bk == nil {
		return domain.Kline{}, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
