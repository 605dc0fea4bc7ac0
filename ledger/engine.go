/*
engine.go - Public ledger operations

PURPOSE:
  The Engine is the single entry point for every balance change: receive,
  issue, reserve, unreserve, adjust, plus the two read paths queryStock and
  queryHistory. It validates intent, delegates the arithmetic to the pure
  transition functions in record.go, and commits through the Coordinator.

IDEMPOTENCY:
  Operations are idempotency-safe at the caller level only when the caller
  supplies a stable reference; the engine does not deduplicate by reference.
  Callers must not double-submit.

READS:
  queryStock and queryHistory never mutate state and may be served from
  replicas; repeated calls over an unchanged ledger yield the same result.
*/
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Engine struct {
	coordinator *Coordinator
	records     RecordStore
	log         LogStore
	clock       func() time.Time
	logger      *zap.Logger
}

// NewEngine wires the engine over a transactional store set.
func NewEngine(stores TxRunner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		coordinator: NewCoordinator(stores, logger),
		records:     stores.Records(),
		log:         stores.Log(),
		clock:       time.Now,
		logger:      logger,
	}
}

// WithClock overrides the wall clock, for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

func (e *Engine) at(t time.Time) time.Time {
	if t.IsZero() {
		return e.clock().UTC()
	}
	return t
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Receive adds inbound stock, creating the record lazily for a never-seen
// key, and reblends the weighted-average cost.
func (e *Engine) Receive(ctx context.Context, key StockKey, args ReceiveArgs) (StockRecord, *Entry, error) {
	args.At = e.at(args.At)
	rec, entry, err := e.coordinator.run(ctx, key, true, args.At, func(r StockRecord) (StockRecord, *EntryDraft, error) {
		next, draft, err := ApplyReceive(r, args)
		if err != nil {
			return r, nil, err
		}
		return next, &draft, nil
	})
	if err != nil {
		return StockRecord{}, nil, err
	}
	e.logger.Info("stock received",
		zap.String("key", key.String()),
		zap.String("sequence", entry.SequenceNumber),
		zap.String("quantity", args.Quantity.String()),
		zap.String("unit_cost", args.UnitCost.String()))
	return rec, entry, nil
}

// Issue removes outbound stock. Fails with ErrInsufficientAvailable or,
// for batch-scoped issues, ErrInsufficientBatchQuantity; either way the
// record is untouched.
func (e *Engine) Issue(ctx context.Context, key StockKey, args IssueArgs) (StockRecord, *Entry, error) {
	args.At = e.at(args.At)
	rec, entry, err := e.coordinator.run(ctx, key, false, args.At, func(r StockRecord) (StockRecord, *EntryDraft, error) {
		next, draft, err := ApplyIssue(r, args)
		if err != nil {
			return r, nil, err
		}
		return next, &draft, nil
	})
	if err != nil {
		return StockRecord{}, nil, err
	}
	e.logger.Info("stock issued",
		zap.String("key", key.String()),
		zap.String("sequence", entry.SequenceNumber),
		zap.String("quantity", args.Quantity.String()))
	return rec, entry, nil
}

// Reserve promises quantity against available stock. Record state only;
// reservations are not physical movements and emit no log entry.
func (e *Engine) Reserve(ctx context.Context, key StockKey, quantity Quantity) (StockRecord, error) {
	at := e.clock().UTC()
	rec, _, err := e.coordinator.run(ctx, key, false, at, func(r StockRecord) (StockRecord, *EntryDraft, error) {
		next, err := ApplyReserve(r, quantity, at)
		return next, nil, err
	})
	return rec, err
}

// Unreserve releases a promise, clamped at zero. Over-release is tolerated
// silently but logged, since it usually means a caller double-released.
func (e *Engine) Unreserve(ctx context.Context, key StockKey, quantity Quantity) (StockRecord, error) {
	at := e.clock().UTC()
	var over bool
	rec, _, err := e.coordinator.run(ctx, key, false, at, func(r StockRecord) (StockRecord, *EntryDraft, error) {
		over = quantity.GreaterThan(r.ReservedQuantity)
		next, err := ApplyUnreserve(r, quantity, at)
		return next, nil, err
	})
	if err == nil && over {
		e.logger.Warn("unreserve exceeded reserved quantity, clamped to zero",
			zap.String("key", key.String()),
			zap.String("requested", quantity.String()))
	}
	return rec, err
}

// Adjust sets the quantity directly after a physical count.
func (e *Engine) Adjust(ctx context.Context, key StockKey, args AdjustArgs) (StockRecord, *Entry, error) {
	args.At = e.at(args.At)
	rec, entry, err := e.coordinator.run(ctx, key, false, args.At, func(r StockRecord) (StockRecord, *EntryDraft, error) {
		next, draft, err := ApplyAdjust(r, args)
		if err != nil {
			return r, nil, err
		}
		return next, &draft, nil
	})
	if err != nil {
		return StockRecord{}, nil, err
	}
	e.logger.Info("stock adjusted",
		zap.String("key", key.String()),
		zap.String("sequence", entry.SequenceNumber),
		zap.String("delta", entry.QuantityDelta.String()))
	return rec, entry, nil
}

// SetThresholds updates the min/reorder/max levels read by projections.
// Not a ledger movement: no entry is emitted.
func (e *Engine) SetThresholds(ctx context.Context, key StockKey, min, reorder, max Quantity) (StockRecord, error) {
	if min.IsNegative() || reorder.IsNegative() || max.IsNegative() {
		return StockRecord{}, &ValidationError{Field: "thresholds", Message: "must be >= 0"}
	}
	at := e.clock().UTC()
	rec, _, err := e.coordinator.run(ctx, key, false, at, func(r StockRecord) (StockRecord, *EntryDraft, error) {
		next := r.clone()
		next.MinimumQuantity = min
		next.ReorderPoint = reorder
		next.MaximumQuantity = max
		return next, nil, nil
	})
	return rec, err
}

// SetActive retires or reinstates a record. Retired records reject
// mutations but remain queryable; records are never hard-deleted.
func (e *Engine) SetActive(ctx context.Context, key StockKey, active bool) (StockRecord, error) {
	at := e.clock().UTC()
	rec, _, err := e.coordinator.run(ctx, key, false, at, func(r StockRecord) (StockRecord, *EntryDraft, error) {
		next := r.clone()
		next.Active = active
		return next, nil, nil
	})
	return rec, err
}

// =============================================================================
// READS
// =============================================================================

// GetRecord returns one record, or ErrRecordNotFound.
func (e *Engine) GetRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	return e.records.Load(ctx, key)
}

// QueryStock returns records matching the filter.
func (e *Engine) QueryStock(ctx context.Context, filter RecordFilter) ([]StockRecord, error) {
	return e.records.List(ctx, filter)
}

// LowStock returns active records at or under their reorder point.
func (e *Engine) LowStock(ctx context.Context, filter RecordFilter) ([]StockRecord, error) {
	return LowStock(ctx, e.records, filter)
}

// CriticalStock returns active records at or under their minimum quantity.
func (e *Engine) CriticalStock(ctx context.Context, filter RecordFilter) ([]StockRecord, error) {
	return CriticalStock(ctx, e.records, filter)
}

// Valuation summarizes on-hand value by item category, decimal-exact.
func (e *Engine) Valuation(ctx context.Context, location LocationRef) ([]CategoryValuation, error) {
	return ValuationByCategory(ctx, e.records, location)
}

// QueryHistory returns log entries matching the filter, in sequence order.
// Finite and restartable: re-issuing the same filter re-yields the same
// entries for an unchanged ledger.
func (e *Engine) QueryHistory(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return MovementHistory(ctx, e.log, filter)
}

// Audit replays a key's history and reports drift against the record.
func (e *Engine) Audit(ctx context.Context, key StockKey) (AuditReport, error) {
	rec, err := e.records.Load(ctx, key)
	if err != nil {
		return AuditReport{}, err
	}
	entries, err := e.log.Query(ctx, EntryFilter{Item: key.Item, Location: key.Location})
	if err != nil {
		return AuditReport{}, err
	}
	return BuildAuditReport(rec, entries), nil
}
