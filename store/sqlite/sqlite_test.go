package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/stock-engine/ledger"
	"github.com/forgeworks/stock-engine/store/sqlite"
)

var testKey = ledger.StockKey{Item: "ITM-001", Location: "WH-A"}

func qty(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(at time.Time) ledger.StockRecord {
	rec := ledger.NewStockRecord(testKey, at)
	rec.ItemName = "Hex Bolt M8"
	rec.Category = "fasteners"
	rec.Unit = "pcs"
	rec.CurrentQuantity = qty(120)
	rec.ReservedQuantity = qty(20)
	rec.AverageUnitCost = qty(1.25)
	rec.MinimumQuantity = qty(10)
	rec.ReorderPoint = qty(30)
	rec.Batches = []ledger.Batch{{ID: "B1", Quantity: qty(120), ReceivedDate: at}}
	rec.LastTransactionAt = at
	return rec
}

// =============================================================================
// RECORD STORE
// =============================================================================

func TestStore_RecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2026, time.May, 2, 10, 0, 0, 0, time.UTC)

	saved, err := s.Upsert(ctx, sampleRecord(at), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved.Version)

	loaded, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "Hex Bolt M8", loaded.ItemName)
	assert.True(t, loaded.CurrentQuantity.Equal(qty(120)))
	assert.True(t, loaded.ReservedQuantity.Equal(qty(20)))
	assert.True(t, loaded.AverageUnitCost.Equal(qty(1.25)))
	assert.True(t, loaded.Active)
	assert.EqualValues(t, 1, loaded.Version)
	require.Len(t, loaded.Batches, 1)
	assert.True(t, loaded.Batches[0].Quantity.Equal(qty(120)))
	assert.Equal(t, at, loaded.LastTransactionAt)
	assert.Equal(t, at, loaded.CreatedAt)
}

func TestStore_LoadMissingRecord(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), ledger.StockKey{Item: "nope", Location: "nowhere"})
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestStore_UpsertVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Now().UTC().Truncate(time.Second)

	rec, err := s.Upsert(ctx, sampleRecord(at), 0)
	require.NoError(t, err)

	// Writer A bumps the row to version 2.
	rec.CurrentQuantity = qty(130)
	_, err = s.Upsert(ctx, rec, 1)
	require.NoError(t, err)

	// Writer B still holds version 1 and must lose.
	rec.CurrentQuantity = qty(999)
	_, err = s.Upsert(ctx, rec, 1)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)

	loaded, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, loaded.CurrentQuantity.Equal(qty(130)))
	assert.EqualValues(t, 2, loaded.Version)
}

func TestStore_CreateRaceMapsToVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Now().UTC().Truncate(time.Second)

	_, err := s.Upsert(ctx, sampleRecord(at), 0)
	require.NoError(t, err)

	// A second create with expectedVersion 0 rides the primary key.
	_, err = s.Upsert(ctx, sampleRecord(at), 0)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)
}

func TestStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Now().UTC().Truncate(time.Second)

	healthy := sampleRecord(at)
	_, err := s.Upsert(ctx, healthy, 0)
	require.NoError(t, err)

	low := ledger.NewStockRecord(ledger.StockKey{Item: "ITM-002", Location: "WH-A"}, at)
	low.CurrentQuantity = qty(5)
	low.ReorderPoint = qty(30)
	low.MinimumQuantity = qty(10)
	_, err = s.Upsert(ctx, low, 0)
	require.NoError(t, err)

	retired := ledger.NewStockRecord(ledger.StockKey{Item: "ITM-003", Location: "WH-B"}, at)
	retired.Active = false
	_, err = s.Upsert(ctx, retired, 0)
	require.NoError(t, err)

	all, err := s.List(ctx, ledger.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "retired records hidden by default")

	withRetired, err := s.List(ctx, ledger.RecordFilter{IncludeRetired: true})
	require.NoError(t, err)
	assert.Len(t, withRetired, 3)

	lows, err := s.List(ctx, ledger.RecordFilter{LowStockOnly: true})
	require.NoError(t, err)
	require.Len(t, lows, 1)
	assert.EqualValues(t, "ITM-002", lows[0].Item)

	criticals, err := s.List(ctx, ledger.RecordFilter{CriticalOnly: true})
	require.NoError(t, err)
	require.Len(t, criticals, 1)
	assert.EqualValues(t, "ITM-002", criticals[0].Item)

	byLocation, err := s.List(ctx, ledger.RecordFilter{Location: "WH-A"})
	require.NoError(t, err)
	assert.Len(t, byLocation, 2)
}

// =============================================================================
// LOG STORE
// =============================================================================

func sampleEntry(seq string, kind ledger.Kind, delta float64, at time.Time) ledger.Entry {
	return ledger.Entry{
		ID:                ledger.EntryID("e-" + seq),
		SequenceNumber:    seq,
		Item:              testKey.Item,
		Location:          testKey.Location,
		Kind:              kind,
		QuantityDelta:     qty(delta),
		UnitCost:          qty(2),
		TotalValue:        qty(2 * delta).Abs(),
		PreviousQuantity:  qty(0),
		ResultingQuantity: qty(delta),
		Reference:         ledger.Reference{Kind: ledger.RefReceipt, ID: "doc-1"},
		Actor:             "tester",
		OccurredAt:        at,
	}
}

func TestStore_EntryAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, sampleEntry("TXN-202605-0001", ledger.KindIn, 100, base)))
	require.NoError(t, s.Append(ctx, sampleEntry("TXN-202605-0002", ledger.KindOut, -30, base.Add(time.Hour))))
	require.NoError(t, s.Append(ctx, sampleEntry("TXN-202605-0003", ledger.KindIn, 10, base.Add(2*time.Hour))))

	all, err := s.Query(ctx, ledger.EntryFilter{Item: testKey.Item, Location: testKey.Location})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "TXN-202605-0001", all[0].SequenceNumber, "sequence order")
	assert.Equal(t, ledger.RefReceipt, all[0].Reference.Kind)
	assert.True(t, all[1].QuantityDelta.Equal(qty(-30)))

	outs, err := s.Query(ctx, ledger.EntryFilter{Kind: ledger.KindOut})
	require.NoError(t, err)
	assert.Len(t, outs, 1)

	from := base.Add(30 * time.Minute)
	window, err := s.Query(ctx, ledger.EntryFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	limited, err := s.Query(ctx, ledger.EntryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_QueryOrdersPastFourDigitSuffix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Now().UTC()

	// Appended out of order; -10000 sorts before -9999 as a plain string,
	// and a five-digit January entry must still precede February.
	for _, seq := range []string{
		"TXN-202602-0001",
		"TXN-202601-10000",
		"TXN-202601-9999",
	} {
		e := sampleEntry(seq, ledger.KindIn, 1, at)
		require.NoError(t, s.Append(ctx, e))
	}

	entries, err := s.Query(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "TXN-202601-9999", entries[0].SequenceNumber)
	assert.Equal(t, "TXN-202601-10000", entries[1].SequenceNumber)
	assert.Equal(t, "TXN-202602-0001", entries[2].SequenceNumber)
}

func TestStore_DuplicateSequenceNumberRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Now().UTC()

	require.NoError(t, s.Append(ctx, sampleEntry("TXN-202605-0001", ledger.KindIn, 10, at)))

	dup := sampleEntry("TXN-202605-0001", ledger.KindIn, 10, at)
	dup.ID = "e-other"
	err := s.Append(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrStorage)
}

// =============================================================================
// SEQUENCE STORE
// =============================================================================

func TestStore_SequenceCountsPerKindAndPeriod(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Next(ctx, ledger.SeqTransaction, "202605")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.Next(ctx, ledger.SeqTransaction, "202605")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.Next(ctx, ledger.SeqTransaction, "202606")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "new period restarts the counter")

	n, err = s.Next(ctx, ledger.SeqReceipt, "202605")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "kinds count independently")
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Now().UTC().Truncate(time.Second)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.TxStores) error {
		if _, err := tx.Records().Upsert(ctx, sampleRecord(at), 0); err != nil {
			return err
		}
		if err := tx.Log().Append(ctx, sampleEntry("TXN-202605-0001", ledger.KindIn, 120, at)); err != nil {
			return err
		}
		if _, err := tx.Sequences().Next(ctx, ledger.SeqTransaction, "202605"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing from the failed transaction may be visible.
	_, err = s.Load(ctx, testKey)
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)

	entries, err := s.Query(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := s.Next(ctx, ledger.SeqTransaction, "202605")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "rolled-back increment never burned a number")
}

func TestStore_WithTxCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Now().UTC().Truncate(time.Second)

	err := s.WithTx(ctx, func(tx ledger.TxStores) error {
		if _, err := tx.Records().Upsert(ctx, sampleRecord(at), 0); err != nil {
			return err
		}
		return tx.Log().Append(ctx, sampleEntry("TXN-202605-0001", ledger.KindIn, 120, at))
	})
	require.NoError(t, err)

	rec, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, rec.CurrentQuantity.Equal(qty(120)))

	entries, err := s.Query(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// END TO END THROUGH THE ENGINE
// =============================================================================

func TestStore_EngineOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	engine := ledger.NewEngine(s, nil)

	_, _, err := engine.Receive(ctx, testKey, ledger.ReceiveArgs{
		Quantity: qty(1000), UnitCost: qty(1500), Batch: "B1",
		Reference: ledger.Reference{Kind: ledger.RefReceipt, ID: "rcpt-1"},
	})
	require.NoError(t, err)

	rec, _, err := engine.Issue(ctx, testKey, ledger.IssueArgs{Quantity: qty(400), Batch: "B1"})
	require.NoError(t, err)
	assert.True(t, rec.CurrentQuantity.Equal(qty(600)))
	assert.True(t, rec.BatchQuantity("B1").Equal(qty(600)))

	report, err := engine.Audit(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 2, report.EntryCount)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Now().UTC()

	_, err := s.Upsert(ctx, sampleRecord(at), 0)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))

	_, err = s.Load(ctx, testKey)
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}
