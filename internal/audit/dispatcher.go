// Package audit delivers trade audit records to the log and a durable sink
// without ever blocking the trading loops.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/metrics"
	"cryptoScalper/internal/ports"

	"github.com/google/uuid"
)

const (
	defaultBufferSize   = 256
	defaultWriteTimeout = 2 * time.Second
)

// Dispatcher buffers audit records and writes them from a single worker goroutine.
type Dispatcher struct {
	sink         ports.AuditSink // optional
	logger       ports.Logger
	writeTimeout time.Duration
	now          func() time.Time

	records chan domain.TradeAuditRecord
	done    chan struct{}

	mu         sync.Mutex
	closed     bool
	lastReject map[string]string // symbol -> reason of the last rejection emitted
	dropped    int
}

// Config holds the tunables for a Dispatcher.
type Config struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// NewDispatcher starts a dispatcher. sink may be nil, in which case records are only logged.
func NewDispatcher(cfg Config, sink ports.AuditSink, logger ports.Logger) (*Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: audit dispatcher requires a logger", ports.ErrConfigurationError)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	d := &Dispatcher{
		sink:         sink,
		logger:       logger,
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
		records:      make(chan domain.TradeAuditRecord, cfg.BufferSize),
		done:         make(chan struct{}),
		lastReject:   make(map[string]string),
	}
	go d.run()
	return d, nil
}

// Emit queues rec and returns immediately. Records are dropped when the buffer is full
// or the dispatcher is closed. Repeated identical rejections for a symbol are collapsed.
func (d *Dispatcher) Emit(rec domain.TradeAuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.dropLocked()
		return
	}
	if rec.Kind == domain.AuditRejection {
		if d.lastReject[rec.Symbol] == rec.Reason {
			return
		}
		d.lastReject[rec.Symbol] = rec.Reason
	} else {
		delete(d.lastReject, rec.Symbol)
	}

	select {
	case d.records <- rec:
	default:
		d.dropLocked()
	}
}

func (d *Dispatcher) dropLocked() {
	d.dropped++
	metrics.AuditDropped.Inc()
}

// Dropped returns how many records were discarded.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for rec := range d.records {
		d.write(rec)
	}
}

func (d *Dispatcher) write(rec domain.TradeAuditRecord) {
	ctx := context.Background()
	fields := map[string]interface{}{
		"auditID":  rec.ID,
		"symbol":   rec.Symbol,
		"kind":     string(rec.Kind),
		"action":   string(rec.Action),
		"price":    rec.Price,
		"quantity": rec.Quantity,
		"pnl":      rec.PnL,
		"reason":   rec.Reason,
	}
	switch rec.Kind {
	case domain.AuditError, domain.AuditFatal:
		d.logger.Error(ctx, fmt.Errorf("%s", rec.Reason), "Trade audit", fields)
	case domain.AuditWarning, domain.AuditRejection:
		d.logger.Warn(ctx, "Trade audit", fields)
	default:
		d.logger.Info(ctx, "Trade audit", fields)
	}

	if d.sink == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, d.writeTimeout)
	defer cancel()
	if err := d.sink.RecordAudit(wctx, rec); err != nil {
		d.logger.Error(ctx, err, "Failed to persist audit record", map[string]interface{}{"auditID": rec.ID, "symbol": rec.Symbol})
	}
}

// Close stops accepting records and waits until the buffer is drained or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.records)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: audit drain interrupted: %w", ports.ErrTimeout, ctx.Err())
	}
}
