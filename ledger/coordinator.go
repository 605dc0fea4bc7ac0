/*
coordinator.go - Atomic commit of one ledger operation

PURPOSE:
  Wraps a single record transition so the StockRecord upsert and the log
  Entry append commit as one indivisible unit. On a version conflict the
  fresh record is re-read and the operation's arithmetic re-applied - the
  transition functions are pure, so replaying them is safe - up to a
  bounded number of attempts.

COMMIT SEQUENCE (one attempt, inside one store transaction):
  1. Load the record at its current version (create lazily if allowed)
  2. Apply the pure transition
  3. Allocate the sequence number (aborts the attempt on failure)
  4. Upsert the record with the loaded version
  5. Append the log entry

  Steps 3-5 share the transaction: a failed counter write or append rolls
  the whole attempt back, so no entry ever exists without its number and
  no record update ever lands without its entry.

CONTENTION:
  The unit of contention is the StockKey. Conflicting writers repeat their
  arithmetic rather than block; ErrConcurrencyExhausted surfaces only after
  maxAttempts conflicts and is safe for the caller to retry.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds the conflict retry loop.
const DefaultMaxAttempts = 5

// applyFunc is one operation's arithmetic over a record snapshot.
// A nil draft means the operation touches record state only (reservations).
type applyFunc func(StockRecord) (StockRecord, *EntryDraft, error)

// Coordinator owns the write path. Everything else reads.
type Coordinator struct {
	Stores      TxRunner
	MaxAttempts int
	Logger      *zap.Logger
}

func NewCoordinator(stores TxRunner, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{Stores: stores, MaxAttempts: DefaultMaxAttempts, Logger: logger}
}

// run executes apply against the key's record and commits the result.
// createIfMissing is true only for receive: records are created lazily on
// the first inbound movement (timestamped at) and never by any other
// operation.
func (c *Coordinator) run(ctx context.Context, key StockKey, createIfMissing bool, at time.Time, apply applyFunc) (StockRecord, *Entry, error) {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var (
		committed StockRecord
		entry     *Entry
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.Stores.WithTx(ctx, func(tx TxStores) error {
			rec, err := tx.Records().Load(ctx, key)
			expected := rec.Version
			if errors.Is(err, ErrRecordNotFound) {
				if !createIfMissing {
					return err
				}
				rec = NewStockRecord(key, at)
				expected = 0
			} else if err != nil {
				return err
			}

			next, draft, err := apply(rec)
			if err != nil {
				return err
			}

			var e *Entry
			if draft != nil {
				gen := &SequenceGenerator{Store: tx.Sequences()}
				seq, err := gen.Next(ctx, SeqTransaction, draft.OccurredAt)
				if err != nil {
					return err
				}
				e = &Entry{
					ID:                EntryID(uuid.New().String()),
					SequenceNumber:    seq,
					Item:              key.Item,
					Location:          key.Location,
					Kind:              draft.Kind,
					QuantityDelta:     draft.QuantityDelta,
					UnitCost:          draft.UnitCost,
					TotalValue:        draft.TotalValue,
					PreviousQuantity:  draft.PreviousQuantity,
					ResultingQuantity: draft.ResultingQuantity,
					Reference:         draft.Reference,
					Batch:             draft.Batch,
					Expiry:            draft.Expiry,
					Actor:             draft.Actor,
					Reason:            draft.Reason,
					OccurredAt:        draft.OccurredAt,
				}
			}

			stored, err := tx.Records().Upsert(ctx, next, expected)
			if err != nil {
				return err
			}
			if e != nil {
				if err := tx.Log().Append(ctx, *e); err != nil {
					return err
				}
			}

			committed = stored
			entry = e
			return nil
		})

		if err == nil {
			return committed, entry, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return StockRecord{}, nil, err
		}

		c.Logger.Debug("stock record version conflict, retrying",
			zap.String("key", key.String()),
			zap.Int("attempt", attempt))
	}

	c.Logger.Warn("stock operation exhausted conflict retries",
		zap.String("key", key.String()),
		zap.Int("attempts", attempts))
	return StockRecord{}, nil, ErrConcurrencyExhausted
}
