package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/stock-engine/ledger"
	"github.com/forgeworks/stock-engine/ledger/store"
)

func entryWithSeq(seq string) ledger.Entry {
	return ledger.Entry{
		ID:             ledger.EntryID("e-" + seq),
		SequenceNumber: seq,
		Item:           "ITM-001",
		Location:       "WH-A",
		Kind:           ledger.KindIn,
		QuantityDelta:  decimal.NewFromInt(1),
		OccurredAt:     time.Now().UTC(),
	}
}

func TestMemory_QueryOrdersPastFourDigitSuffix(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	// Appended out of order; -10000 sorts before -9999 as a plain string.
	for _, seq := range []string{"TXN-202601-10001", "TXN-202601-9999", "TXN-202601-10000"} {
		require.NoError(t, mem.Append(ctx, entryWithSeq(seq)))
	}

	entries, err := mem.Query(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "TXN-202601-9999", entries[0].SequenceNumber)
	assert.Equal(t, "TXN-202601-10000", entries[1].SequenceNumber)
	assert.Equal(t, "TXN-202601-10001", entries[2].SequenceNumber)
}
