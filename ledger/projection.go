/*
projection.go - Derived, read-only views over the two stores

PURPOSE:
  Low-stock and critical-stock pickers, valuation summaries, and movement
  history. These are pure functions over records and entries: advisory,
  never authoritative, and never written to directly. They may be served
  from replicas or caches with eventual consistency.
*/
package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STOCK LEVEL PROJECTIONS
// =============================================================================

// LowStock narrows a record filter to active records whose available
// quantity has fallen to the reorder point or below.
func LowStock(ctx context.Context, records RecordStore, filter RecordFilter) ([]StockRecord, error) {
	filter.LowStockOnly = true
	filter.IncludeRetired = false
	return records.List(ctx, filter)
}

// CriticalStock narrows a record filter to active records at or under the
// minimum quantity.
func CriticalStock(ctx context.Context, records RecordStore, filter RecordFilter) ([]StockRecord, error) {
	filter.CriticalOnly = true
	filter.IncludeRetired = false
	return records.List(ctx, filter)
}

// =============================================================================
// VALUATION
// =============================================================================

// CategoryValuation is one row of the valuation-by-category summary.
type CategoryValuation struct {
	Category      string
	RecordCount   int
	TotalQuantity Quantity
	TotalValue    Quantity
}

// ValuationByCategory folds on-hand value grouped by the item category
// echoed on each record. Records with no category group under "".
func ValuationByCategory(ctx context.Context, records RecordStore, location LocationRef) ([]CategoryValuation, error) {
	recs, err := records.List(ctx, RecordFilter{Location: location})
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string]*CategoryValuation)
	for _, r := range recs {
		cv, ok := byCategory[r.Category]
		if !ok {
			cv = &CategoryValuation{
				Category:      r.Category,
				TotalQuantity: decimal.Zero,
				TotalValue:    decimal.Zero,
			}
			byCategory[r.Category] = cv
		}
		cv.RecordCount++
		cv.TotalQuantity = cv.TotalQuantity.Add(r.CurrentQuantity)
		cv.TotalValue = cv.TotalValue.Add(r.TotalValue())
	}

	out := make([]CategoryValuation, 0, len(byCategory))
	for _, cv := range byCategory {
		out = append(out, *cv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// =============================================================================
// MOVEMENT HISTORY
// =============================================================================

// MovementHistory returns a key's entries filtered and ordered by sequence.
// Thin wrapper kept so dashboards depend on the projection surface rather
// than the store interface.
func MovementHistory(ctx context.Context, log LogStore, filter EntryFilter) ([]Entry, error) {
	return log.Query(ctx, filter)
}
