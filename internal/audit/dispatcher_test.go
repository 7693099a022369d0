package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

type mockSink struct {
	mu      sync.Mutex
	records []domain.TradeAuditRecord
	err     error
	block   chan struct{}
}

func (m *mockSink) RecordAudit(ctx context.Context, rec domain.TradeAuditRecord) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	sink := &mockSink{}
	d, err := NewDispatcher(Config{BufferSize: 16}, sink, &mockLogger{})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		d.Emit(domain.TradeAuditRecord{Symbol: "BTCUSDT", Kind: domain.AuditEntry, Action: domain.ActionEnter})
	}
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, 10, sink.count())
	ids := make(map[string]bool)
	for _, rec := range sink.records {
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.Timestamp.IsZero())
		ids[rec.ID] = true
	}
	assert.Len(t, ids, 10, "ids must be unique")
}

func TestDispatcher_NeverBlocksWhenFull(t *testing.T) {
	sink := &mockSink{block: make(chan struct{})}
	d, err := NewDispatcher(Config{BufferSize: 2}, sink, &mockLogger{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Emit(domain.TradeAuditRecord{Symbol: "BTCUSDT", Kind: domain.AuditExit})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	assert.Greater(t, d.Dropped(), 0)

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_SinkErrorIsLoggedOnly(t *testing.T) {
	logger := &mockLogger{}
	sink := &mockSink{err: errors.New("disk full")}
	d, err := NewDispatcher(Config{}, sink, logger)
	require.NoError(t, err)

	d.Emit(domain.TradeAuditRecord{Symbol: "BTCUSDT", Kind: domain.AuditEntry})
	require.NoError(t, d.Close(context.Background()))
	assert.Contains(t, logger.errors, "Failed to persist audit record")
}

func TestDispatcher_CollapsesRepeatedRejections(t *testing.T) {
	sink := &mockSink{}
	d, err := NewDispatcher(Config{}, sink, &mockLogger{})
	require.NoError(t, err)

	reject := domain.TradeAuditRecord{Symbol: "BTCUSDT", Kind: domain.AuditRejection, Reason: "circuit breaker engaged"}
	d.Emit(reject)
	d.Emit(reject)
	d.Emit(domain.TradeAuditRecord{Symbol: "ETHUSDT", Kind: domain.AuditRejection, Reason: "circuit breaker engaged"})
	d.Emit(domain.TradeAuditRecord{Symbol: "BTCUSDT", Kind: domain.AuditEntry})
	d.Emit(reject)
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 4, sink.count())
}

func TestDispatcher_EmitAfterCloseIsDropped(t *testing.T) {
	d, err := NewDispatcher(Config{}, nil, &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	d.Emit(domain.TradeAuditRecord{Symbol: "BTCUSDT", Kind: domain.AuditEntry})
	assert.Equal(t, 1, d.Dropped())
}

func TestDispatcher_CloseTimeout(t *testing.T) {
	sink := &mockSink{block: make(chan struct{})}
	d, err := NewDispatcher(Config{}, sink, &mockLogger{})
	require.NoError(t, err)
	d.Emit(domain.TradeAuditRecord{Symbol: "BTCUSDT", Kind: domain.AuditEntry})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), ports.ErrTimeout)
	close(sink.block)
}

func TestNewDispatcher_RequiresLogger(t *testing.T) {
	_, err := NewDispatcher(Config{}, nil, nil)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
