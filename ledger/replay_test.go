package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/stock-engine/ledger"
)

func chainEntry(seq string, delta, prev, resulting float64) ledger.Entry {
	return ledger.Entry{
		SequenceNumber:    seq,
		Item:              testKey.Item,
		Location:          testKey.Location,
		QuantityDelta:     qty(delta),
		PreviousQuantity:  qty(prev),
		ResultingQuantity: qty(resulting),
	}
}

func TestReplay_SumsDeltasInSequenceOrder(t *testing.T) {
	// Deliberately out of order: replay must sort by sequence number first.
	entries := []ledger.Entry{
		chainEntry("TXN-202601-0003", -20, 150, 130),
		chainEntry("TXN-202601-0001", 100, 0, 100),
		chainEntry("TXN-202601-0002", 50, 100, 150),
	}
	assert.True(t, ledger.Replay(entries).Equal(qty(130)))
	assert.Empty(t, ledger.AuditChain(entries))
}

func TestReplay_EmptyHistoryIsZero(t *testing.T) {
	assert.True(t, ledger.Replay(nil).IsZero())
	assert.Empty(t, ledger.AuditChain(nil))
}

func TestAuditChain_SingleBreakYieldsOneViolation(t *testing.T) {
	// Entry 0002 claims it started from 90 where 0001 left 100 behind. The
	// entries after the break chain among themselves and must not cascade.
	entries := []ledger.Entry{
		chainEntry("TXN-202601-0001", 100, 0, 100),
		chainEntry("TXN-202601-0002", -10, 90, 80),
		chainEntry("TXN-202601-0003", 5, 80, 85),
	}
	violations := ledger.AuditChain(entries)
	require.Len(t, violations, 1)
	assert.Equal(t, "TXN-202601-0002", violations[0].Sequence)
	assert.True(t, violations[0].Expected.Equal(qty(100)))
	assert.True(t, violations[0].Actual.Equal(qty(90)))
}

func TestAuditChain_FiveDigitSuffixKeepsOrder(t *testing.T) {
	// The suffix is unpadded past 9999; a string sort would put -10000
	// before -9999 and report two bogus violations on a valid chain.
	entries := []ledger.Entry{
		chainEntry("TXN-202601-10000", 1, 1, 2),
		chainEntry("TXN-202601-9999", 1, 0, 1),
	}
	assert.Empty(t, ledger.AuditChain(entries))
	assert.True(t, ledger.Replay(entries).Equal(qty(2)))
}

func TestBuildAuditReport_DetectsDrift(t *testing.T) {
	rec := ledger.NewStockRecord(testKey, time.Now())
	rec.CurrentQuantity = qty(95)

	entries := []ledger.Entry{
		chainEntry("TXN-202601-0001", 100, 0, 100),
	}
	report := ledger.BuildAuditReport(rec, entries)
	assert.False(t, report.Consistent())
	assert.True(t, report.Drift.Equal(qty(-5)), "record below replayed log")
	assert.True(t, report.ReplayedQuantity.Equal(qty(100)))
	assert.Equal(t, 1, report.EntryCount)
}

func TestBuildAuditReport_ConsistentLedger(t *testing.T) {
	rec := ledger.NewStockRecord(testKey, time.Now())
	rec.CurrentQuantity = qty(130)

	entries := []ledger.Entry{
		chainEntry("TXN-202601-0001", 100, 0, 100),
		chainEntry("TXN-202601-0002", 30, 100, 130),
	}
	report := ledger.BuildAuditReport(rec, entries)
	assert.True(t, report.Consistent())
	assert.True(t, report.Drift.IsZero())
	assert.Empty(t, report.ChainViolations)
}
