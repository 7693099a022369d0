package app

import (
	"context"
	"sync"
	"time"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"
)

type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warnMsgs...)
}

type mockMarket struct {
	klines     []domain.Kline
	klinesErr  error
	klineCalls int
	book       *domain.OrderBook
	bookErr    error
	price      float64
	priceErr   error
}

func (m *mockMarket) GetRecentKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	m.klineCalls++
	if m.klinesErr != nil {
		return nil, m.klinesErr
	}
	return m.klines, nil
}

func (m *mockMarket) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	return m.book, m.bookErr
}

func (m *mockMarket) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

// mockGateway fills market orders at price with a 0.1% quote fee.
type mockGateway struct {
	price   float64
	buyErr  error
	sellErr error
	buys    []float64
	sells   []float64

	delay    time.Duration // buy fills only after this long, regardless of ctx
	entered  chan struct{} // signaled when a buy reaches the gateway
	hold     chan struct{} // when set, buys block until it is closed
	honorCtx bool          // sells fail once ctx is done
}

func (m *mockGateway) fill(qty float64) *domain.Fill {
	return &domain.Fill{
		OrderID:  "test-order",
		Price:    m.price,
		Quantity: qty,
		Fee:      domain.FeeFor(m.price, qty, 0.001),
	}
}

func (m *mockGateway) ExecuteBuy(ctx context.Context, symbol string, quantity float64) (*domain.Fill, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.hold != nil {
		<-m.hold
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.buyErr != nil {
		return nil, m.buyErr
	}
	m.buys = append(m.buys, quantity)
	return m.fill(quantity), nil
}

func (m *mockGateway) ExecuteSell(ctx context.Context, symbol string, quantity float64) (*domain.Fill, error) {
	if m.honorCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if m.sellErr != nil {
		return nil, m.sellErr
	}
	m.sells = append(m.sells, quantity)
	return m.fill(quantity), nil
}

type mockBalance struct {
	free float64
	err  error
}

func (m *mockBalance) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	return m.free, m.err
}

// mockIndicators returns a fixed series regardless of the candles it is given.
type mockIndicators struct {
	series domain.IndicatorSeries
	err    error
}

func (m *mockIndicators) Compute(klines []domain.Kline) (domain.IndicatorSeries, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.series, nil
}

func (m *mockIndicators) RequiredDataPoints() int {
	return 2
}

type mockAudit struct {
	mu      sync.Mutex
	records []domain.TradeAuditRecord
}

func (m *mockAudit) Emit(rec domain.TradeAuditRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *mockAudit) kinds() []domain.AuditKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditKind, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Kind)
	}
	return out
}

func (m *mockAudit) bySymbol(symbol string, kind domain.AuditKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Symbol == symbol && r.Kind == kind {
			n++
		}
	}
	return n
}

// mockRepo is an in-memory PositionRepository with injectable failures.
type mockRepo struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	trades    []*domain.Trade
	pending   map[string]*domain.Trade
	saveErr   error
	closeErr  error
	markErr   error
	honorCtx  bool // writes fail once ctx is done, like a real database driver
}

func newMockRepo() *mockRepo {
	return &mockRepo{positions: make(map[string]*domain.Position), pending: make(map[string]*domain.Trade)}
}

func (m *mockRepo) SavePosition(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.positions[pos.Symbol] = pos.Clone()
	return nil
}

func (m *mockRepo) FindPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[symbol].Clone(), nil
}

func (m *mockRepo) DeletePosition(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	return nil
}

func (m *mockRepo) FindAllPositions(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (m *mockRepo) ClosePosition(ctx context.Context, symbol string, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if m.closeErr != nil {
		return m.closeErr
	}
	if _, ok := m.positions[symbol]; !ok {
		return ports.ErrNotFound
	}
	delete(m.positions, symbol)
	delete(m.pending, symbol)
	cp := *trade
	m.trades = append(m.trades, &cp)
	return nil
}

func (m *mockRepo) SavePendingClose(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	cp := *trade
	m.pending[trade.Symbol] = &cp
	return nil
}

func (m *mockRepo) FindPendingCloses(ctx context.Context) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Trade, 0, len(m.pending))
	for _, t := range m.pending {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepo) DeletePendingClose(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, symbol)
	return nil
}

func (m *mockRepo) closedTrades() []*domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Trade(nil), m.trades...)
}
