/*
store.go - Persistence interfaces for the two stores and the sequence counter

PURPOSE:
  Defines the boundary between the ledger engine and the database. Three
  record sets back the engine:

    RecordStore:   one mutable balance document per (item, location),
                   guarded by optimistic versioning
    LogStore:      append-only transaction log - no Update, no Delete
    SequenceStore: atomic increment-and-fetch counters per (kind, period)

OPTIMISTIC CONCURRENCY:
  Every RecordStore.Upsert carries the version read at load time. A
  concurrent writer that changed the record in between causes
  ErrVersionConflict, which the Coordinator retries. This is the backbone
  that prevents lost updates on CurrentQuantity without a long-held lock.

ATOMIC COMMITS:
  TxRunner.WithTx executes a function against transactional views of all
  three stores. The record upsert and the log append commit together or not
  at all; there is no partial state visible to other callers.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (WAL)
  - ledger/store: in-memory, for tests and dev

SEE ALSO:
  - coordinator.go: The only caller of WithTx on the write path
*/
package ledger

import "context"

// =============================================================================
// RECORD STORE - Current-state balance documents
// =============================================================================

// RecordStore persists StockRecords keyed by (item, location).
type RecordStore interface {
	// Load returns the record for a key, or ErrRecordNotFound.
	// The returned record carries the Version to pass back to Upsert.
	Load(ctx context.Context, key StockKey) (StockRecord, error)

	// Upsert writes the record if its stored version still equals
	// expectedVersion (0 = create; the key must not exist yet).
	// Returns the stored record with its new version, or ErrVersionConflict.
	Upsert(ctx context.Context, rec StockRecord, expectedVersion int64) (StockRecord, error)

	// List returns records matching the filter, for read projections.
	List(ctx context.Context, filter RecordFilter) ([]StockRecord, error)
}

// =============================================================================
// LOG STORE - Append-only transaction log
// =============================================================================

// LogStore persists Entries. APPEND-ONLY: no Update, no Delete. Ever.
type LogStore interface {
	// Append persists one entry. This is the only write operation.
	Append(ctx context.Context, e Entry) error

	// Query returns entries matching the filter, ordered by sequence number.
	Query(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// =============================================================================
// SEQUENCE STORE - Atomic per-(kind, period) counters
// =============================================================================

// SequenceStore allocates strictly increasing integers. Two concurrent
// callers for the same (kind, period) never receive the same value; the
// store's atomic increment primitive is the only synchronization.
type SequenceStore interface {
	Next(ctx context.Context, kind, period string) (int64, error)
}

// =============================================================================
// TRANSACTIONAL ACCESS
// =============================================================================

// TxStores is the view of all stores inside one atomic transaction.
type TxStores interface {
	Records() RecordStore
	Log() LogStore
	Sequences() SequenceStore
}

// TxRunner executes fn atomically. If fn returns an error the transaction
// rolls back and nothing was written; otherwise everything commits together.
type TxRunner interface {
	TxStores

	WithTx(ctx context.Context, fn func(TxStores) error) error
}
