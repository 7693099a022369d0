// Package store keeps the single open position per symbol, cached in memory
// and written through to a durable PositionRepository.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/ports"
)

// slot guards one symbol's position. Operations on different symbols never share a lock.
type slot struct {
	mu  sync.Mutex
	pos *domain.Position
}

// Store is the Position Store. Reads return copies so callers cannot mutate cached state.
type Store struct {
	repo   ports.PositionRepository
	logger ports.Logger

	mu    sync.RWMutex // guards the slots map itself, not slot contents
	slots map[string]*slot
}

// New creates a Store backed by repo.
func New(repo ports.PositionRepository, logger ports.Logger) (*Store, error) {
	if repo == nil || logger == nil {
		return nil, fmt.Errorf("%w: position store requires a repository and a logger", ports.ErrConfigurationError)
	}
	return &Store{
		repo:   repo,
		logger: logger,
		slots:  make(map[string]*slot),
	}, nil
}

func (s *Store) slotFor(symbol string) *slot {
	s.mu.RLock()
	sl, ok := s.slots[symbol]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[symbol]; !ok {
		sl = &slot{}
		s.slots[symbol] = sl
	}
	return sl
}

// Load first replays pending closes left by a previous run, then replaces the
// cache with every open position found in the repository.
func (s *Store) Load(ctx context.Context) error {
	if err := s.replayPendingCloses(ctx); err != nil {
		return err
	}

	positions, err := s.repo.FindAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("%w: loading open positions: %w", ports.ErrPersistence, err)
	}

	slots := make(map[string]*slot, len(positions))
	for _, pos := range positions {
		symbol := domain.NormalizeSymbol(pos.Symbol)
		pos.Symbol = symbol
		slots[symbol] = &slot{pos: pos}
	}

	s.mu.Lock()
	s.slots = slots
	s.mu.Unlock()

	s.logger.Info(ctx, "Open positions loaded", map[string]interface{}{"count": len(positions)})
	return nil
}

// replayPendingCloses commits sells that filled before a restart but were never
// recorded. A pending close whose slot is already gone is dropped.
func (s *Store) replayPendingCloses(ctx context.Context) error {
	pending, err := s.repo.FindPendingCloses(ctx)
	if err != nil {
		return fmt.Errorf("%w: loading pending closes: %w", ports.ErrPersistence, err)
	}
	for _, trade := range pending {
		symbol := domain.NormalizeSymbol(trade.Symbol)
		trade.Symbol = symbol
		err := s.repo.ClosePosition(ctx, symbol, trade)
		switch {
		case err == nil:
			s.logger.Warn(ctx, "Pending close replayed", map[string]interface{}{"symbol": symbol, "pnl": trade.PNL, "reason": string(trade.CloseReason)})
		case errors.Is(err, ports.ErrNotFound):
			if err := s.repo.DeletePendingClose(ctx, symbol); err != nil {
				return fmt.Errorf("%w: dropping stale pending close %s: %w", ports.ErrPersistence, symbol, err)
			}
			s.logger.Warn(ctx, "Stale pending close dropped, no open position", map[string]interface{}{"symbol": symbol})
		default:
			return fmt.Errorf("%w: replaying pending close %s: %w", ports.ErrPersistence, symbol, err)
		}
	}
	return nil
}

// Get returns a copy of the open position for symbol, or nil when none is open.
func (s *Store) Get(symbol string) *domain.Position {
	sl := s.slotFor(domain.NormalizeSymbol(symbol))
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.pos.Clone()
}

// Put persists pos and, once the write succeeds, makes it the cached slot value.
// A failed write leaves the cached value untouched.
func (s *Store) Put(ctx context.Context, pos *domain.Position) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}
	record := pos.Clone()
	record.Symbol = domain.NormalizeSymbol(record.Symbol)

	sl := s.slotFor(record.Symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := s.repo.SavePosition(ctx, record); err != nil {
		return fmt.Errorf("%w: saving position %s: %w", ports.ErrPersistence, record.Symbol, err)
	}
	sl.pos = record
	return nil
}

// Remove empties the slot for symbol without recording a trade.
func (s *Store) Remove(ctx context.Context, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	sl := s.slotFor(symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := s.repo.DeletePosition(ctx, symbol); err != nil {
		return fmt.Errorf("%w: removing position %s: %w", ports.ErrPersistence, symbol, err)
	}
	sl.pos = nil
	return nil
}

// Close empties the slot for symbol and appends trade to the history as one unit.
func (s *Store) Close(ctx context.Context, symbol string, trade *domain.Trade) error {
	symbol = domain.NormalizeSymbol(symbol)
	sl := s.slotFor(symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.pos == nil {
		return fmt.Errorf("%w: no open position for %s", ports.ErrNotFound, symbol)
	}
	trade.Symbol = symbol
	if err := s.repo.ClosePosition(ctx, symbol, trade); err != nil {
		return fmt.Errorf("%w: closing position %s: %w", ports.ErrPersistence, symbol, err)
	}
	sl.pos = nil
	return nil
}

// MarkPendingClose durably records a filled sell whose Close has not succeeded,
// so Load can replay it after a restart. The cached slot is left as is.
func (s *Store) MarkPendingClose(ctx context.Context, trade *domain.Trade) error {
	record := *trade
	record.Symbol = domain.NormalizeSymbol(record.Symbol)
	if err := s.repo.SavePendingClose(ctx, &record); err != nil {
		return fmt.Errorf("%w: saving pending close %s: %w", ports.ErrPersistence, record.Symbol, err)
	}
	return nil
}

// Snapshot returns copies of every open position ordered by symbol.
func (s *Store) Snapshot() []*domain.Position {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]*domain.Position, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.pos != nil {
			out = append(out, sl.pos.Clone())
		}
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Count returns the number of open positions.
func (s *Store) Count() int {
	return len(s.Snapshot())
}
