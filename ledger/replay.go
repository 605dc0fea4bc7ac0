/*
replay.go - Log replay and chain-integrity auditing

PURPOSE:
  The transaction log is the source of truth; the record is a cache. These
  functions fold a key's entries back into quantities and check the two
  audit invariants:

    balance identity:  currentQuantity == sum of deltas in sequence order
    chain integrity:   entry[i+1].previousQuantity == entry[i].resultingQuantity

  Violations are flagged for manual reconciliation, never auto-corrected.
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Replay folds entries into the quantity they imply, starting from zero.
// Entries are folded in sequence-number order regardless of input order.
func Replay(entries []Entry) Quantity {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		return SequenceBefore(ordered[i].SequenceNumber, ordered[j].SequenceNumber)
	})

	total := decimal.Zero
	for _, e := range ordered {
		total = total.Add(e.QuantityDelta)
	}
	return total
}

// ChainViolation pinpoints one break in the before/after chain.
type ChainViolation struct {
	Sequence string
	Expected Quantity // previous entry's resulting quantity
	Actual   Quantity // this entry's previous quantity
}

// AuditChain checks consecutive entries of one key for chain breaks and
// per-entry snapshot inconsistencies.
func AuditChain(entries []Entry) []ChainViolation {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		return SequenceBefore(ordered[i].SequenceNumber, ordered[j].SequenceNumber)
	})

	var violations []ChainViolation
	expected := decimal.Zero
	for _, e := range ordered {
		if !e.PreviousQuantity.Equal(expected) {
			violations = append(violations, ChainViolation{
				Sequence: e.SequenceNumber,
				Expected: expected,
				Actual:   e.PreviousQuantity,
			})
		}
		// Whatever the entry claims it left behind is the next expectation:
		// a single break should produce one violation, not cascade.
		expected = e.ResultingQuantity
	}
	return violations
}

// AuditReport summarizes one key's health: record vs. replayed log.
type AuditReport struct {
	Key              StockKey
	RecordQuantity   Quantity
	ReplayedQuantity Quantity
	Drift            Quantity // record - replay; zero when consistent
	EntryCount       int
	ChainViolations  []ChainViolation
}

func (r AuditReport) Consistent() bool {
	return r.Drift.IsZero() && len(r.ChainViolations) == 0
}

// BuildAuditReport compares a record against its full entry history.
func BuildAuditReport(rec StockRecord, entries []Entry) AuditReport {
	replayed := Replay(entries)
	return AuditReport{
		Key:              rec.Key(),
		RecordQuantity:   rec.CurrentQuantity,
		ReplayedQuantity: replayed,
		Drift:            rec.CurrentQuantity.Sub(replayed),
		EntryCount:       len(entries),
		ChainViolations:  AuditChain(entries),
	}
}
