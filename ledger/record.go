/*
record.go - StockRecord and its pure transition functions

PURPOSE:
  StockRecord is the current-state balance for one (item, location) pair.
  It is a cache: the transaction log is the source of truth, and the record
  must always equal the fold of its log history.

NUMERIC INVARIANTS (hold after every accepted transition):
  1. CurrentQuantity >= 0
  2. 0 <= ReservedQuantity <= CurrentQuantity
  3. sum(Batches[].Quantity) == CurrentQuantity while batch tracking is live
  4. Available() and TotalValue() are derived, never stored independently

TRANSITIONS ARE PURE FUNCTIONS:
  ApplyReceive, ApplyIssue, ApplyReserve, ApplyUnreserve, ApplyAdjust take a
  record snapshot and arguments and return a new record (plus, for physical
  movements, an EntryDraft). They never touch storage, which keeps the
  arithmetic trivially unit-testable; the Coordinator owns load/commit.

COSTING:
  Weighted-average on receipt. newAvg = (oldQty*oldAvg + qty*cost) /
  (oldQty + qty), with newAvg = cost when oldQty is zero. Outbound events
  and count adjustments never change the average.

SEE ALSO:
  - engine.go: Wraps these into committed operations
  - coordinator.go: Retry-on-conflict commit loop
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STOCK RECORD
// =============================================================================

type StockRecord struct {
	Item     ItemRef
	Location LocationRef

	// Master-data echo supplied by callers at operation time. The ledger
	// treats these as opaque labels; Category feeds the valuation grouping.
	ItemName string
	Category string
	Unit     string

	CurrentQuantity  Quantity
	ReservedQuantity Quantity
	AverageUnitCost  Quantity

	Batches []Batch

	// Thresholds read by projections; never mutated by ledger operations.
	MinimumQuantity Quantity
	ReorderPoint    Quantity
	MaximumQuantity Quantity

	// Retired records reject mutations but stay queryable for audit.
	Active bool

	LastTransactionAt time.Time
	CreatedAt         time.Time

	// Version backs optimistic concurrency. Set by the store on load,
	// checked on upsert.
	Version int64
}

func (r StockRecord) Key() StockKey {
	return StockKey{Item: r.Item, Location: r.Location}
}

// Available is the quantity not promised to anyone else.
func (r StockRecord) Available() Quantity {
	return r.CurrentQuantity.Sub(r.ReservedQuantity)
}

// TotalValue is the on-hand valuation at the weighted-average cost.
func (r StockRecord) TotalValue() Quantity {
	return r.CurrentQuantity.Mul(r.AverageUnitCost)
}

func (r StockRecord) IsLowStock() bool {
	return r.Available().LessThanOrEqual(r.ReorderPoint)
}

func (r StockRecord) IsCritical() bool {
	return r.Available().LessThanOrEqual(r.MinimumQuantity)
}

// BatchQuantity returns the quantity held under a batch, zero if absent.
func (r StockRecord) BatchQuantity(id BatchID) Quantity {
	for _, b := range r.Batches {
		if b.ID == id {
			return b.Quantity
		}
	}
	return decimal.Zero
}

// NewStockRecord creates the zero-balance record for a never-seen key.
// Records are created lazily on first receive and never hard-deleted.
func NewStockRecord(key StockKey, at time.Time) StockRecord {
	return StockRecord{
		Item:      key.Item,
		Location:  key.Location,
		Active:    true,
		CreatedAt: at,
	}
}

// clone deep-copies the batches slice so transitions never alias the input.
func (r StockRecord) clone() StockRecord {
	out := r
	if len(r.Batches) > 0 {
		out.Batches = make([]Batch, len(r.Batches))
		copy(out.Batches, r.Batches)
	}
	return out
}

// =============================================================================
// ENTRY DRAFT - Log entry before ID and sequence number are assigned
// =============================================================================

// EntryDraft is everything the transition knows about the log entry.
// The Coordinator assigns ID and SequenceNumber at commit time so a failed
// attempt never burns a number.
type EntryDraft struct {
	Kind              Kind
	QuantityDelta     Quantity
	UnitCost          Quantity
	TotalValue        Quantity
	PreviousQuantity  Quantity
	ResultingQuantity Quantity
	Reference         Reference
	Batch             BatchID
	Expiry            *time.Time
	Actor             string
	Reason            string
	OccurredAt        time.Time
}

// =============================================================================
// OPERATION ARGUMENTS
// =============================================================================

type ReceiveArgs struct {
	Quantity  Quantity
	UnitCost  Quantity
	Batch     BatchID
	Expiry    *time.Time
	Reference Reference
	Actor     string
	Reason    string
	At        time.Time

	// Master-data echo, applied on first receive or when non-empty.
	ItemName string
	Category string
	Unit     string
}

type IssueArgs struct {
	Quantity Quantity
	Batch    BatchID
	// ReleaseReservation atomically releases up to Quantity of the caller's
	// reservation before the availability check, for issuing against a
	// prior reserve.
	ReleaseReservation bool
	Reference          Reference
	Actor              string
	Reason             string
	At                 time.Time
}

type AdjustArgs struct {
	NewQuantity Quantity
	Reference   Reference
	Actor       string
	Reason      string
	At          time.Time
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// ApplyReceive adds inbound stock and reblends the weighted-average cost.
// Emits IN, or RETURN when the reference is a sales-return document.
func ApplyReceive(rec StockRecord, args ReceiveArgs) (StockRecord, EntryDraft, error) {
	if !args.Quantity.IsPositive() {
		return rec, EntryDraft{}, &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if args.UnitCost.IsNegative() {
		return rec, EntryDraft{}, &ValidationError{Field: "unitCost", Message: "must be >= 0"}
	}
	if !rec.Active {
		return rec, EntryDraft{}, ErrRecordRetired
	}

	out := rec.clone()
	prev := out.CurrentQuantity

	if prev.IsZero() {
		out.AverageUnitCost = args.UnitCost
	} else {
		// (oldQty*oldAvg + qty*cost) / (oldQty+qty)
		blended := prev.Mul(out.AverageUnitCost).Add(args.Quantity.Mul(args.UnitCost))
		out.AverageUnitCost = blended.Div(prev.Add(args.Quantity))
	}
	out.CurrentQuantity = prev.Add(args.Quantity)
	out.LastTransactionAt = args.At

	if args.ItemName != "" {
		out.ItemName = args.ItemName
	}
	if args.Category != "" {
		out.Category = args.Category
	}
	if args.Unit != "" {
		out.Unit = args.Unit
	}

	if args.Batch != "" {
		found := false
		for i := range out.Batches {
			if out.Batches[i].ID == args.Batch {
				out.Batches[i].Quantity = out.Batches[i].Quantity.Add(args.Quantity)
				if args.Expiry != nil {
					out.Batches[i].Expiry = args.Expiry
				}
				found = true
				break
			}
		}
		if !found {
			out.Batches = append(out.Batches, Batch{
				ID:           args.Batch,
				Quantity:     args.Quantity,
				ReceivedDate: args.At,
				Expiry:       args.Expiry,
			})
		}
	}

	kind := KindIn
	if args.Reference.Kind == RefSalesReturn {
		kind = KindReturn
	}

	draft := EntryDraft{
		Kind:              kind,
		QuantityDelta:     args.Quantity,
		UnitCost:          args.UnitCost,
		TotalValue:        args.Quantity.Mul(args.UnitCost),
		PreviousQuantity:  prev,
		ResultingQuantity: out.CurrentQuantity,
		Reference:         args.Reference,
		Batch:             args.Batch,
		Expiry:            args.Expiry,
		Actor:             args.Actor,
		Reason:            args.Reason,
		OccurredAt:        args.At,
	}
	return out, draft, nil
}

// ApplyIssue removes outbound stock. Average cost is untouched: costing is
// weighted-average-on-receipt, never recalculated on the way out.
func ApplyIssue(rec StockRecord, args IssueArgs) (StockRecord, EntryDraft, error) {
	if !args.Quantity.IsPositive() {
		return rec, EntryDraft{}, &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if !rec.Active {
		return rec, EntryDraft{}, ErrRecordRetired
	}

	out := rec.clone()
	prev := out.CurrentQuantity

	if args.ReleaseReservation {
		release := decimal.Min(args.Quantity, out.ReservedQuantity)
		out.ReservedQuantity = out.ReservedQuantity.Sub(release)
	}

	if out.Available().LessThan(args.Quantity) {
		return rec, EntryDraft{}, &InsufficientError{
			Key:       rec.Key(),
			Available: out.Available(),
			Requested: args.Quantity,
		}
	}

	if args.Batch != "" {
		held := out.BatchQuantity(args.Batch)
		if held.LessThan(args.Quantity) {
			return rec, EntryDraft{}, &InsufficientError{
				Key:       rec.Key(),
				Batch:     args.Batch,
				Available: held,
				Requested: args.Quantity,
			}
		}
		for i := range out.Batches {
			if out.Batches[i].ID == args.Batch {
				out.Batches[i].Quantity = out.Batches[i].Quantity.Sub(args.Quantity)
				break
			}
		}
	}

	out.CurrentQuantity = prev.Sub(args.Quantity)
	out.LastTransactionAt = args.At

	draft := EntryDraft{
		Kind:              KindOut,
		QuantityDelta:     args.Quantity.Neg(),
		UnitCost:          out.AverageUnitCost,
		TotalValue:        args.Quantity.Mul(out.AverageUnitCost),
		PreviousQuantity:  prev,
		ResultingQuantity: out.CurrentQuantity,
		Reference:         args.Reference,
		Batch:             args.Batch,
		Actor:             args.Actor,
		Reason:            args.Reason,
		OccurredAt:        args.At,
	}
	return out, draft, nil
}

// ApplyReserve promises quantity to a caller without moving stock.
// Reservations live on the record only; no log entry is emitted.
func ApplyReserve(rec StockRecord, quantity Quantity, at time.Time) (StockRecord, error) {
	if !quantity.IsPositive() {
		return rec, &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if !rec.Active {
		return rec, ErrRecordRetired
	}
	if rec.Available().LessThan(quantity) {
		return rec, &InsufficientError{
			Key:       rec.Key(),
			Available: rec.Available(),
			Requested: quantity,
		}
	}
	out := rec.clone()
	out.ReservedQuantity = out.ReservedQuantity.Add(quantity)
	out.LastTransactionAt = at
	return out, nil
}

// ApplyUnreserve releases a promise. Clamped at zero: releasing more than
// is reserved is tolerated silently rather than failed.
func ApplyUnreserve(rec StockRecord, quantity Quantity, at time.Time) (StockRecord, error) {
	if !quantity.IsPositive() {
		return rec, &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	out := rec.clone()
	out.ReservedQuantity = decimal.Max(decimal.Zero, out.ReservedQuantity.Sub(quantity))
	out.LastTransactionAt = at
	return out, nil
}

// ApplyAdjust sets CurrentQuantity directly after a physical count.
// The delta may be negative. Average cost is unchanged. A reservation
// larger than the counted quantity is clamped down to keep the
// reserved <= current invariant.
func ApplyAdjust(rec StockRecord, args AdjustArgs) (StockRecord, EntryDraft, error) {
	if args.NewQuantity.IsNegative() {
		return rec, EntryDraft{}, &ValidationError{Field: "newQuantity", Message: "must be >= 0"}
	}
	if !rec.Active {
		return rec, EntryDraft{}, ErrRecordRetired
	}

	out := rec.clone()
	prev := out.CurrentQuantity
	out.CurrentQuantity = args.NewQuantity
	out.ReservedQuantity = decimal.Min(out.ReservedQuantity, args.NewQuantity)
	out.LastTransactionAt = args.At

	draft := EntryDraft{
		Kind:              KindAdjustment,
		QuantityDelta:     args.NewQuantity.Sub(prev),
		UnitCost:          out.AverageUnitCost,
		TotalValue:        args.NewQuantity.Sub(prev).Abs().Mul(out.AverageUnitCost),
		PreviousQuantity:  prev,
		ResultingQuantity: out.CurrentQuantity,
		Reference:         args.Reference,
		Actor:             args.Actor,
		Reason:            args.Reason,
		OccurredAt:        args.At,
	}
	return out, draft, nil
}
