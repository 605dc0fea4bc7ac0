/*
Package ledger provides the stock ledger engine.

PURPOSE:
  This package contains the domain types and algorithms for maintaining a
  running, cost-weighted quantity balance per (item, location) pair. It is
  the only writer of stock state: every balance change flows through the
  Engine, which validates the transition, computes costing, and commits the
  updated record together with an immutable log entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: decimal quantity (never float64)
  - StockKey: the (item, location) pair - the unit of contention
  - Entry: an immutable transaction log record with before/after snapshots
  - Reference: the external document (receipt, issue, adjustment) that
    caused a balance change

DESIGN PRINCIPLES:
  1. Immutability: log entries are never modified after commit
  2. Precision: decimal.Decimal for quantities and costs, no float drift
  3. Type Safety: ItemRef/LocationRef are distinct types
  4. Auditability: every entry carries previous/resulting quantity so the
     log replays into the record without external state

SEE ALSO:
  - record.go: StockRecord and the pure transition functions
  - engine.go: Operation orchestration
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY - Decimal quantity helpers
// =============================================================================

// Quantity is an alias kept for readability at call sites: quantities,
// unit costs, and values are all decimals.
type Quantity = decimal.Decimal

func Qty(v int64) Quantity { return decimal.NewFromInt(v) }

func QtyFromFloat(v float64) Quantity { return decimal.NewFromFloat(v) }

func MustQty(s string) Quantity {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemRef string
type LocationRef string
type EntryID string
type BatchID string

// StockKey identifies one stock record. Two operations against different
// keys never contend; two against the same key serialize via optimistic
// versioning in the Coordinator.
type StockKey struct {
	Item     ItemRef
	Location LocationRef
}

func (k StockKey) String() string {
	return string(k.Item) + "@" + string(k.Location)
}

// =============================================================================
// REFERENCE - External document that caused a movement
// =============================================================================

type ReferenceKind string

const (
	RefReceipt     ReferenceKind = "receipt"
	RefIssue       ReferenceKind = "issue"
	RefSalesReturn ReferenceKind = "sales_return"
	RefAdjustment  ReferenceKind = "adjustment"
	RefTransfer    ReferenceKind = "transfer"
)

// Reference points at the document that justifies a ledger entry.
// The ledger treats it as opaque; it does not validate document existence.
type Reference struct {
	Kind ReferenceKind
	ID   string
}

// =============================================================================
// ENTRY - Immutable transaction log record
// =============================================================================

type Kind string

const (
	KindIn         Kind = "IN"
	KindOut        Kind = "OUT"
	KindAdjustment Kind = "ADJUSTMENT"
	KindReturn     Kind = "RETURN"
)

// Entry records a single balance-changing event. Append-only: no update,
// no delete. Corrections are made with a compensating entry.
//
// CHAIN INVARIANT: ordering a key's entries by SequenceNumber, entry N+1's
// PreviousQuantity equals entry N's ResultingQuantity. This makes the log
// independently replayable into a StockRecord and is the primary tool for
// auditing drift.
type Entry struct {
	ID             EntryID
	SequenceNumber string // e.g. TXN-202601-0007, strictly increasing per period
	Item           ItemRef
	Location       LocationRef
	Kind           Kind

	// Signed quantity: positive inbound, negative outbound.
	QuantityDelta Quantity
	UnitCost      Quantity // receipt cost inbound; the record's average outbound and on adjustments
	TotalValue    Quantity // |QuantityDelta| * UnitCost

	// Balance snapshot around this entry.
	PreviousQuantity  Quantity
	ResultingQuantity Quantity

	Reference Reference
	Batch     BatchID
	Expiry    *time.Time

	Actor      string
	Reason     string
	OccurredAt time.Time
}

// =============================================================================
// BATCH - Optional sub-ledger line within a StockRecord
// =============================================================================

type Batch struct {
	ID           BatchID
	Quantity     Quantity
	ReceivedDate time.Time
	Expiry       *time.Time
}

// =============================================================================
// FILTERS - Read-side query parameters
// =============================================================================

// RecordFilter narrows queryStock. Zero values mean "any".
type RecordFilter struct {
	Item           ItemRef
	Location       LocationRef
	LowStockOnly   bool // available <= reorder point
	CriticalOnly   bool // available <= minimum quantity
	IncludeRetired bool
}

// EntryFilter narrows queryHistory. Zero values mean "any".
type EntryFilter struct {
	Item     ItemRef
	Location LocationRef
	Kind     Kind
	From     *time.Time
	To       *time.Time
	Limit    int
}
