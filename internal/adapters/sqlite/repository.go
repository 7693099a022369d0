package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the position, trade and audit ports on SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

var (
	_ ports.PositionRepository = (*Repository)(nil)
	_ ports.TradeRepository    = (*Repository)(nil)
	_ ports.AuditSink          = (*Repository)(nil)
)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database and makes sure the schema exists.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/scalper.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent symbol loops.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := newWithDB(db, cfg.Logger)
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func newWithDB(db *sql.DB, logger ports.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS open_positions (
		symbol TEXT PRIMARY KEY,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL CHECK (quantity > 0),
		initial_quantity REAL NOT NULL,
		entry_fee REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL,
		stop_loss REAL NOT NULL,
		trailing_stop REAL NOT NULL,
		scale_count INTEGER NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		entry_fee REAL NOT NULL,
		exit_fee REAL NOT NULL,
		pnl REAL NOT NULL,
		scale_count INTEGER NOT NULL DEFAULT 0,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_closes (
		symbol TEXT PRIMARY KEY,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		entry_fee REAL NOT NULL,
		exit_fee REAL NOT NULL,
		pnl REAL NOT NULL,
		scale_count INTEGER NOT NULL DEFAULT 0,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_exit_time ON trade_history (symbol, exit_time);
	CREATE INDEX IF NOT EXISTS idx_trade_history_exit_time ON trade_history (exit_time);
	CREATE INDEX IF NOT EXISTS idx_audit_log_symbol_created ON audit_log (symbol, created_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

const upsertPosition = `
	INSERT INTO open_positions (symbol, entry_price, quantity, initial_quantity, entry_fee,
	                            take_profit, stop_loss, trailing_stop, scale_count, opened_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		entry_price = excluded.entry_price,
		quantity = excluded.quantity,
		initial_quantity = excluded.initial_quantity,
		entry_fee = excluded.entry_fee,
		take_profit = excluded.take_profit,
		stop_loss = excluded.stop_loss,
		trailing_stop = excluded.trailing_stop,
		scale_count = excluded.scale_count,
		opened_at = excluded.opened_at,
		updated_at = excluded.updated_at`

// SavePosition inserts the slot for pos.Symbol or replaces its contents.
func (r *Repository) SavePosition(ctx context.Context, pos *domain.Position) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}
	updated := pos.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := r.db.ExecContext(ctx, upsertPosition,
		pos.Symbol, pos.EntryPrice, pos.Quantity, pos.InitialQuantity, pos.EntryFee,
		pos.TakeProfitPrice, pos.StopLossPrice, pos.TrailingStopPrice, pos.ScaleCount,
		pos.OpenedAt.UTC(), updated.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to save position for symbol %s: %w", ports.ErrUpdateFailed, pos.Symbol, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"symbol": pos.Symbol, "quantity": pos.Quantity, "scaleCount": pos.ScaleCount})
	return nil
}

const selectPosition = `
	SELECT symbol, entry_price, quantity, initial_quantity, entry_fee,
	       take_profit, stop_loss, trailing_stop, scale_count, opened_at, updated_at
	FROM open_positions`

// FindPosition returns the open position for symbol, or nil when the slot is empty.
func (r *Repository) FindPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, selectPosition+` WHERE symbol = ?`, symbol)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to query position for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	return pos, nil
}

// FindAllPositions returns every open slot ordered by symbol.
func (r *Repository) FindAllPositions(ctx context.Context) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, selectPosition+` ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query open positions: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindAllPositions: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// DeletePosition empties the slot for symbol. Deleting an empty slot is not an error.
func (r *Repository) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM open_positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("%w: failed to delete position for symbol %s: %w", ports.ErrDeleteFailed, symbol, err)
	}
	r.logger.Debug(ctx, "Position deleted", map[string]interface{}{"symbol": symbol})
	return nil
}

// ClosePosition removes the slot, appends the trade and clears any pending close
// in one transaction.
func (r *Repository) ClosePosition(ctx context.Context, symbol string, trade *domain.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin close transaction for %s: %w", ports.ErrDBConnection, symbol, err)
	}
	defer tx.Rollback() // No-op after a successful commit

	res, err := tx.ExecContext(ctx, `DELETE FROM open_positions WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("%w: failed to delete position for symbol %s: %w", ports.ErrDeleteFailed, symbol, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected closing %s: %w", symbol, err)
	}
	if affected == 0 {
		return fmt.Errorf("no open position for symbol %s: %w", symbol, ports.ErrNotFound)
	}

	id, err := insertTrade(ctx, tx, trade)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_closes WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("%w: failed to clear pending close for symbol %s: %w", ports.ErrDeleteFailed, symbol, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit close of %s: %w", ports.ErrUpdateFailed, symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Position closed", map[string]interface{}{"symbol": symbol, "tradeID": id, "pnl": trade.PNL})
	return nil
}

// SavePendingClose records trade as a filled sell that still has to be committed.
func (r *Repository) SavePendingClose(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT OR REPLACE INTO pending_closes (symbol, entry_price, exit_price, quantity, entry_fee, exit_fee, pnl,
	                                       scale_count, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.EntryFee, trade.ExitFee, trade.PNL,
		trade.ScaleCount, trade.EntryTime.UTC(), trade.ExitTime.UTC(), string(trade.CloseReason))
	if err != nil {
		return fmt.Errorf("%w: failed to save pending close for symbol %s: %w", ports.ErrUpdateFailed, trade.Symbol, err)
	}
	r.logger.Debug(ctx, "Pending close saved", map[string]interface{}{"symbol": trade.Symbol, "pnl": trade.PNL})
	return nil
}

// FindPendingCloses returns every pending close ordered by symbol.
func (r *Repository) FindPendingCloses(ctx context.Context) ([]*domain.Trade, error) {
	const query = `
	SELECT 0, symbol, entry_price, exit_price, quantity, entry_fee, exit_fee, pnl,
	       scale_count, entry_time, exit_time, close_reason
	FROM pending_closes ORDER BY symbol`
	return r.queryTrades(ctx, query)
}

// DeletePendingClose drops the pending close for symbol. A missing row is not an error.
func (r *Repository) DeletePendingClose(ctx context.Context, symbol string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_closes WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("%w: failed to delete pending close for symbol %s: %w", ports.ErrDeleteFailed, symbol, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertTrade(ctx context.Context, db execer, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, entry_price, exit_price, quantity, entry_fee, exit_fee, pnl,
	                           scale_count, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.ExecContext(ctx, query,
		trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.EntryFee, trade.ExitFee, trade.PNL,
		trade.ScaleCount, trade.EntryTime.UTC(), trade.ExitTime.UTC(), string(trade.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert trade history for symbol %s: %w", ports.ErrUpdateFailed, trade.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Symbol, err)
	}
	return id, nil
}

// --- TradeRepository Implementation ---

const selectTrade = `
	SELECT id, symbol, entry_price, exit_price, quantity, entry_fee, exit_fee, pnl,
	       scale_count, entry_time, exit_time, close_reason
	FROM trade_history`

// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
// A non-positive limit returns the whole history of the symbol.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}
	return r.queryTrades(ctx, selectTrade+` WHERE symbol = ? ORDER BY exit_time DESC LIMIT ?`, symbol, limit)
}

// FindAllTrades retrieves the full history ordered by exit time.
func (r *Repository) FindAllTrades(ctx context.Context) ([]*domain.Trade, error) {
	return r.queryTrades(ctx, selectTrade+` ORDER BY exit_time ASC`)
}

// FindClosedSince returns trades whose exit time is at or after since.
func (r *Repository) FindClosedSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	return r.queryTrades(ctx, selectTrade+` WHERE exit_time >= ? ORDER BY exit_time ASC`, since.UTC())
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query trade history: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// --- AuditSink Implementation ---

// RecordAudit appends an audit record.
func (r *Repository) RecordAudit(ctx context.Context, rec domain.TradeAuditRecord) error {
	const query = `
	INSERT INTO audit_log (id, symbol, kind, action, price, quantity, pnl, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Symbol, string(rec.Kind), string(rec.Action), rec.Price, rec.Quantity, rec.PnL, rec.Reason, rec.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to insert audit record %s: %w", ports.ErrUpdateFailed, rec.ID, err)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	err := s.Scan(
		&p.Symbol, &p.EntryPrice, &p.Quantity, &p.InitialQuantity, &p.EntryFee,
		&p.TakeProfitPrice, &p.StopLossPrice, &p.TrailingStopPrice, &p.ScaleCount, &p.OpenedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	return p, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.Symbol, &th.EntryPrice, &th.ExitPrice, &th.Quantity, &th.EntryFee, &th.ExitFee, &th.PNL,
		&th.ScaleCount, &th.EntryTime, &th.ExitTime, &closeReason)
	if err != nil {
		return nil, err
	}
	if closeReason.Valid && closeReason.String != "" {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	return th, nil
}
