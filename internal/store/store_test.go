package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
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
	saves     int
}

func newMockRepo() *mockRepo {
	return &mockRepo{positions: make(map[string]*domain.Position), pending: make(map[string]*domain.Trade)}
}

func (m *mockRepo) SavePosition(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
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
	if m.closeErr != nil {
		return m.closeErr
	}
	if _, ok := m.positions[symbol]; !ok {
		return ports.ErrNotFound
	}
	delete(m.positions, symbol)
	delete(m.pending, symbol)
	m.trades = append(m.trades, trade)
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

func position(symbol string, qty float64) *domain.Position {
	return &domain.Position{
		Symbol:            symbol,
		EntryPrice:        100,
		Quantity:          qty,
		InitialQuantity:   qty,
		TakeProfitPrice:   102,
		StopLossPrice:     98,
		TrailingStopPrice: 98,
		OpenedAt:          time.Now(),
	}
}

func newTestStore(t *testing.T) (*Store, *mockRepo) {
	t.Helper()
	repo := newMockRepo()
	s, err := New(repo, &mockLogger{})
	require.NoError(t, err)
	return s, repo
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	_, err = New(newMockRepo(), nil)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestStore_PutGetRemove(t *testing.T) {
	s, repo := newTestStore(t)
	ctx := context.Background()

	assert.Nil(t, s.Get("BTCUSDT"))

	require.NoError(t, s.Put(ctx, position(" btcusdt ", 1)))
	got := s.Get("BTCUSDT")
	require.NotNil(t, got)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Contains(t, repo.positions, "BTCUSDT")

	// Mutating the returned copy must not leak into the store.
	got.Quantity = 99
	assert.Equal(t, 1.0, s.Get("BTCUSDT").Quantity)

	require.NoError(t, s.Remove(ctx, "BTCUSDT"))
	assert.Nil(t, s.Get("BTCUSDT"))
	assert.NotContains(t, repo.positions, "BTCUSDT")
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	s, repo := newTestStore(t)
	err := s.Put(context.Background(), position("BTCUSDT", 0))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	assert.Zero(t, repo.saves)
}

func TestStore_PutFailureKeepsPreviousValue(t *testing.T) {
	s, repo := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, position("BTCUSDT", 1)))

	repo.saveErr = errors.New("disk full")
	err := s.Put(ctx, position("BTCUSDT", 2))
	assert.ErrorIs(t, err, ports.ErrPersistence)
	assert.Equal(t, 1.0, s.Get("BTCUSDT").Quantity)
}

func TestStore_Close(t *testing.T) {
	s, repo := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, position("BTCUSDT", 1)))

	repo.closeErr = errors.New("commit failed")
	err := s.Close(ctx, "BTCUSDT", &domain.Trade{PNL: 1})
	assert.ErrorIs(t, err, ports.ErrPersistence)
	assert.NotNil(t, s.Get("BTCUSDT"), "failed commit keeps the slot")

	repo.closeErr = nil
	require.NoError(t, s.Close(ctx, "btcusdt", &domain.Trade{PNL: 1}))
	assert.Nil(t, s.Get("BTCUSDT"))
	require.Len(t, repo.trades, 1)
	assert.Equal(t, "BTCUSDT", repo.trades[0].Symbol)

	err = s.Close(ctx, "BTCUSDT", &domain.Trade{})
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_PendingCloseReplayedOnLoad(t *testing.T) {
	s, repo := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, position("BTCUSDT", 1)))
	require.NoError(t, s.Put(ctx, position("ETHUSDT", 2)))

	repo.closeErr = errors.New("disk I/O error")
	trade := &domain.Trade{Symbol: "btcusdt", Quantity: 1, PNL: 2, CloseReason: domain.CloseReasonTakeProfit}
	require.Error(t, s.Close(ctx, "BTCUSDT", trade))
	require.NoError(t, s.MarkPendingClose(ctx, trade))
	assert.Contains(t, repo.pending, "BTCUSDT")
	assert.NotNil(t, s.Get("BTCUSDT"), "marking does not empty the slot")

	// A pending close without an open slot is stale.
	repo.pending["SOLUSDT"] = &domain.Trade{Symbol: "SOLUSDT", PNL: 9}

	// Restart: the database is healthy again.
	restarted, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	require.Error(t, restarted.Load(ctx), "replay failure must stop the load")

	repo.closeErr = nil
	require.NoError(t, restarted.Load(ctx))
	assert.Nil(t, restarted.Get("BTCUSDT"))
	assert.NotNil(t, restarted.Get("ETHUSDT"))
	assert.Empty(t, repo.pending)
	require.Len(t, repo.trades, 1)
	assert.Equal(t, "BTCUSDT", repo.trades[0].Symbol)
	assert.Equal(t, 2.0, repo.trades[0].PNL)
}

func TestStore_MarkPendingCloseFailure(t *testing.T) {
	s, repo := newTestStore(t)
	repo.markErr = errors.New("database is locked")
	err := s.MarkPendingClose(context.Background(), &domain.Trade{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, ports.ErrPersistence)
}

func TestStore_LoadAndSnapshot(t *testing.T) {
	s, repo := newTestStore(t)
	repo.positions["ETHUSDT"] = position("ETHUSDT", 2)
	repo.positions["BTCUSDT"] = position("BTCUSDT", 1)

	require.NoError(t, s.Load(context.Background()))
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "BTCUSDT", snap[0].Symbol)
	assert.Equal(t, "ETHUSDT", snap[1].Symbol)
	assert.Equal(t, 2, s.Count())
}

func TestStore_ConcurrentSymbols(t *testing.T) {
	s, repo := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		symbol := fmt.Sprintf("SYM%dUSDT", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 1; j <= 25; j++ {
				_ = s.Put(ctx, position(symbol, float64(j)))
				_ = s.Get(symbol)
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, 20)
	for _, p := range snap {
		assert.Equal(t, 25.0, p.Quantity)
		assert.Equal(t, 25.0, repo.positions[p.Symbol].Quantity)
	}
}

func TestStore_ConcurrentSameSymbolStaysConsistent(t *testing.T) {
	s, repo := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		qty := float64(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Put(ctx, position("BTCUSDT", qty))
		}()
	}
	wg.Wait()

	// Cache and durable copy must agree on whichever write landed last.
	assert.Equal(t, repo.positions["BTCUSDT"].Quantity, s.Get("BTCUSDT").Quantity)
	assert.Len(t, s.Snapshot(), 1)
}
