/*
sequence.go - Collision-free human-readable transaction numbers

PURPOSE:
  Produces identifiers like TXN-202601-0007: per-kind, per-month counters
  formatted for humans but allocated atomically. The old pattern of
  counting existing rows and formatting count+1 collides under concurrency
  (count-then-format is not atomic); this generator delegates to the
  store's increment-and-fetch primitive instead.

FAILURE:
  If the counter write fails the enclosing ledger operation aborts - a log
  entry is never written with a missing or guessed number.
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Sequence kinds used by the engine.
const (
	SeqTransaction = "TXN"
	SeqReceipt     = "RCP"
	SeqAdjustment  = "ADJ"
)

// Period returns the per-month counter scope for a point in time,
// e.g. "202601". Derived from the clock at call time; rollover needs no
// scheduled job.
func Period(at time.Time) string {
	return at.UTC().Format("200601")
}

// SequenceGenerator formats store-allocated counters into document numbers.
type SequenceGenerator struct {
	Store SequenceStore
}

// Next returns the next number for (kind, at's period), formatted as
// KIND-YYYYMM-NNNN. Strictly increasing within a period; width grows past
// 9999 rather than wrapping.
func (g *SequenceGenerator) Next(ctx context.Context, kind string, at time.Time) (string, error) {
	period := Period(at)
	n, err := g.Store.Next(ctx, kind, period)
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrSequenceFailed, kind, period, err)
	}
	return fmt.Sprintf("%s-%s-%04d", kind, period, n), nil
}

// SequenceBefore reports whether sequence number a orders before b. The
// numeric suffix is unpadded past 9999, so plain string comparison breaks
// at the boundary ("TXN-202601-10000" < "TXN-202601-9999" as strings);
// the KIND-YYYYMM prefix compares lexicographically, the suffix by width
// first and then value.
func SequenceBefore(a, b string) bool {
	aPrefix, aNum := splitSequence(a)
	bPrefix, bNum := splitSequence(b)
	if aPrefix != bPrefix {
		return aPrefix < bPrefix
	}
	if len(aNum) != len(bNum) {
		return len(aNum) < len(bNum)
	}
	return aNum < bNum
}

func splitSequence(s string) (prefix, num string) {
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
