package ports

import (
	"context"
	"time"

	"cryptoScalper/internal/domain"
)

// PositionRepository durably stores at most one open position per symbol.
type PositionRepository interface {
	// SavePosition inserts or replaces the open position slot for pos.Symbol.
	SavePosition(ctx context.Context, pos *domain.Position) error
	// FindPosition returns nil, nil when the slot is empty.
	FindPosition(ctx context.Context, symbol string) (*domain.Position, error)
	// DeletePosition empties the slot for symbol.
	DeletePosition(ctx context.Context, symbol string) error
	// FindAllPositions returns every open slot.
	FindAllPositions(ctx context.Context) ([]*domain.Position, error)
	// ClosePosition empties the slot, appends trade to history and drops any
	// pending close for symbol in a single transaction.
	ClosePosition(ctx context.Context, symbol string, trade *domain.Trade) error
	// SavePendingClose records a filled sell whose ClosePosition has not succeeded yet.
	SavePendingClose(ctx context.Context, trade *domain.Trade) error
	// FindPendingCloses returns every recorded pending close.
	FindPendingCloses(ctx context.Context) ([]*domain.Trade, error)
	// DeletePendingClose drops the pending close for symbol, if any.
	DeletePendingClose(ctx context.Context, symbol string) error
}

// TradeRepository reads the append-only trade history.
type TradeRepository interface {
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// FindAllTrades retrieves the full history, oldest exit first.
	FindAllTrades(ctx context.Context) ([]*domain.Trade, error)
	// FindClosedSince returns trades whose exit time is at or after since.
	FindClosedSince(ctx context.Context, since time.Time) ([]*domain.Trade, error)
}

// AuditSink accepts trade audit records. Implementations must not block trading.
type AuditSink interface {
	RecordAudit(ctx context.Context, rec domain.TradeAuditRecord) error
}
