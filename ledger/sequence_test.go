package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/stock-engine/ledger"
	"github.com/forgeworks/stock-engine/ledger/store"
)

var january = time.Date(2026, time.January, 15, 9, 30, 0, 0, time.UTC)

func TestSequenceGenerator_Format(t *testing.T) {
	ctx := context.Background()
	gen := &ledger.SequenceGenerator{Store: store.NewMemory()}

	first, err := gen.Next(ctx, ledger.SeqTransaction, january)
	require.NoError(t, err)
	assert.Equal(t, "TXN-202601-0001", first)

	second, err := gen.Next(ctx, ledger.SeqTransaction, january)
	require.NoError(t, err)
	assert.Equal(t, "TXN-202601-0002", second)
}

func TestSequenceGenerator_KindsCountIndependently(t *testing.T) {
	ctx := context.Background()
	gen := &ledger.SequenceGenerator{Store: store.NewMemory()}

	_, err := gen.Next(ctx, ledger.SeqTransaction, january)
	require.NoError(t, err)

	rcp, err := gen.Next(ctx, ledger.SeqReceipt, january)
	require.NoError(t, err)
	assert.Equal(t, "RCP-202601-0001", rcp, "each kind keeps its own counter")
}

func TestSequenceGenerator_PeriodRollover(t *testing.T) {
	ctx := context.Background()
	gen := &ledger.SequenceGenerator{Store: store.NewMemory()}

	_, err := gen.Next(ctx, ledger.SeqTransaction, january)
	require.NoError(t, err)

	// Crossing into February restarts the counter at 1 with no extra work.
	february := january.AddDate(0, 1, 0)
	n, err := gen.Next(ctx, ledger.SeqTransaction, february)
	require.NoError(t, err)
	assert.Equal(t, "TXN-202602-0001", n)
}

func TestPeriod_NormalizesToUTC(t *testing.T) {
	// 03:30 on Feb 1 in UTC+5 is still 22:30 on Jan 31 in UTC.
	loc := time.FixedZone("UTC+5", 5*3600)
	at := time.Date(2026, time.February, 1, 3, 30, 0, 0, loc)
	assert.Equal(t, "202601", ledger.Period(at))

	at = time.Date(2026, time.February, 1, 6, 30, 0, 0, loc)
	assert.Equal(t, "202602", ledger.Period(at))
}

func TestSequenceGenerator_ConcurrentUniqueness(t *testing.T) {
	const n = 100
	ctx := context.Background()
	gen := &ledger.SequenceGenerator{Store: store.NewMemory()}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := gen.Next(ctx, ledger.SeqTransaction, january)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[s], "duplicate sequence %s", s)
			seen[s] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

// failingSequences simulates a counter write failure.
type failingSequences struct{}

func (failingSequences) Next(context.Context, string, string) (int64, error) {
	return 0, errors.New("disk full")
}

func TestSequenceGenerator_FailureWrapsSentinel(t *testing.T) {
	gen := &ledger.SequenceGenerator{Store: failingSequences{}}

	_, err := gen.Next(context.Background(), ledger.SeqTransaction, january)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrSequenceFailed)
	assert.Contains(t, err.Error(), "TXN/202601")
}

func TestSequenceBefore_NumericSuffixOrder(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"TXN-202601-0001", "TXN-202601-0002"},
		{"TXN-202601-9999", "TXN-202601-10000"},
		{"TXN-202601-10000", "TXN-202601-10001"},
		{"TXN-202601-10000", "TXN-202602-0001"}, // periods order before widths
		{"ADJ-202601-0001", "TXN-202601-0001"},
	}
	for _, tc := range cases {
		assert.True(t, ledger.SequenceBefore(tc.a, tc.b), "%s < %s", tc.a, tc.b)
		assert.False(t, ledger.SequenceBefore(tc.b, tc.a), "%s >= %s", tc.b, tc.a)
	}
	assert.False(t, ledger.SequenceBefore("TXN-202601-0001", "TXN-202601-0001"))
}

func TestSequenceGenerator_WidthGrowsPastFourDigits(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	gen := &ledger.SequenceGenerator{Store: mem}

	for i := 0; i < 9999; i++ {
		_, err := mem.Next(ctx, ledger.SeqTransaction, ledger.Period(january))
		require.NoError(t, err)
	}
	s, err := gen.Next(ctx, ledger.SeqTransaction, january)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("TXN-202601-%d", 10000), s)
}
