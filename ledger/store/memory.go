// Package store provides in-memory implementations of the ledger store
// interfaces, for tests and dev servers.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/forgeworks/stock-engine/ledger"
)

// =============================================================================
// MEMORY - In-memory RecordStore + LogStore + SequenceStore + TxRunner
// =============================================================================

type Memory struct {
	mu      sync.Mutex
	records map[ledger.StockKey]ledger.StockRecord
	entries []ledger.Entry
	seqs    map[seqKey]int64
}

type seqKey struct {
	Kind   string
	Period string
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[ledger.StockKey]ledger.StockRecord),
		seqs:    make(map[seqKey]int64),
	}
}

// TxStores accessors: outside a transaction the store is its own view.

func (m *Memory) Records() ledger.RecordStore     { return m }
func (m *Memory) Log() ledger.LogStore            { return m }
func (m *Memory) Sequences() ledger.SequenceStore { return m }

// =============================================================================
// RECORD STORE
// =============================================================================

func (m *Memory) Load(_ context.Context, key ledger.StockKey) (ledger.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(key)
}

func (m *Memory) loadLocked(key ledger.StockKey) (ledger.StockRecord, error) {
	rec, ok := m.records[key]
	if !ok {
		return ledger.StockRecord{}, ledger.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Upsert(_ context.Context, rec ledger.StockRecord, expectedVersion int64) (ledger.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(rec, expectedVersion)
}

func (m *Memory) upsertLocked(rec ledger.StockRecord, expectedVersion int64) (ledger.StockRecord, error) {
	stored, ok := m.records[rec.Key()]
	if expectedVersion == 0 {
		if ok {
			// Lost a create race; the retry loop reloads and re-applies.
			return ledger.StockRecord{}, ledger.ErrVersionConflict
		}
	} else if !ok || stored.Version != expectedVersion {
		return ledger.StockRecord{}, ledger.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	m.records[rec.Key()] = cloneRecord(rec)
	return rec, nil
}

func (m *Memory) List(_ context.Context, filter ledger.RecordFilter) ([]ledger.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.StockRecord
	for _, rec := range m.records {
		if matchRecord(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Item != out[j].Item {
			return out[i].Item < out[j].Item
		}
		return out[i].Location < out[j].Location
	})
	return out, nil
}

func matchRecord(rec ledger.StockRecord, f ledger.RecordFilter) bool {
	if f.Item != "" && rec.Item != f.Item {
		return false
	}
	if f.Location != "" && rec.Location != f.Location {
		return false
	}
	if !f.IncludeRetired && !rec.Active {
		return false
	}
	if f.LowStockOnly && !rec.IsLowStock() {
		return false
	}
	if f.CriticalOnly && !rec.IsCritical() {
		return false
	}
	return true
}

func cloneRecord(rec ledger.StockRecord) ledger.StockRecord {
	out := rec
	if len(rec.Batches) > 0 {
		out.Batches = make([]ledger.Batch, len(rec.Batches))
		copy(out.Batches, rec.Batches)
	}
	return out
}

// =============================================================================
// LOG STORE (append-only)
// =============================================================================

func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) Query(_ context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return queryEntries(m.entries, filter), nil
}

func queryEntries(entries []ledger.Entry, f ledger.EntryFilter) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range entries {
		if f.Item != "" && e.Item != f.Item {
			continue
		}
		if f.Location != "" && e.Location != f.Location {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.From != nil && e.OccurredAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.OccurredAt.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return ledger.SequenceBefore(out[i].SequenceNumber, out[j].SequenceNumber)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// =============================================================================
// SEQUENCE STORE
// =============================================================================

func (m *Memory) Next(_ context.Context, kind, period string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := seqKey{Kind: kind, Period: period}
	m.seqs[k]++
	return m.seqs[k], nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a staged view under the store lock. Staged writes
// become visible only when fn returns nil; an error discards them, so the
// record upsert and the log append land together or not at all.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.TxStores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := &txView{parent: m, seqs: make(map[seqKey]int64)}
	if err := fn(view); err != nil {
		return err
	}

	for key, rec := range view.records {
		m.records[key] = rec
	}
	m.entries = append(m.entries, view.entries...)
	for k, v := range view.seqs {
		m.seqs[k] = v
	}
	return nil
}

// txView stages writes on top of the committed state. The parent lock is
// held for the view's whole lifetime.
type txView struct {
	parent  *Memory
	records map[ledger.StockKey]ledger.StockRecord
	entries []ledger.Entry
	seqs    map[seqKey]int64
}

func (v *txView) Records() ledger.RecordStore     { return v }
func (v *txView) Log() ledger.LogStore            { return v }
func (v *txView) Sequences() ledger.SequenceStore { return v }

func (v *txView) Load(_ context.Context, key ledger.StockKey) (ledger.StockRecord, error) {
	if rec, ok := v.records[key]; ok {
		return cloneRecord(rec), nil
	}
	return v.parent.loadLocked(key)
}

func (v *txView) Upsert(_ context.Context, rec ledger.StockRecord, expectedVersion int64) (ledger.StockRecord, error) {
	stored, staged := v.records[rec.Key()]
	if !staged {
		var ok bool
		stored, ok = v.parent.records[rec.Key()]
		if expectedVersion == 0 {
			if ok {
				return ledger.StockRecord{}, ledger.ErrVersionConflict
			}
		} else if !ok || stored.Version != expectedVersion {
			return ledger.StockRecord{}, ledger.ErrVersionConflict
		}
	} else if stored.Version != expectedVersion {
		return ledger.StockRecord{}, ledger.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	if v.records == nil {
		v.records = make(map[ledger.StockKey]ledger.StockRecord)
	}
	v.records[rec.Key()] = cloneRecord(rec)
	return rec, nil
}

func (v *txView) List(_ context.Context, filter ledger.RecordFilter) ([]ledger.StockRecord, error) {
	merged := make(map[ledger.StockKey]ledger.StockRecord, len(v.parent.records))
	for k, rec := range v.parent.records {
		merged[k] = rec
	}
	for k, rec := range v.records {
		merged[k] = rec
	}
	var out []ledger.StockRecord
	for _, rec := range merged {
		if matchRecord(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Item != out[j].Item {
			return out[i].Item < out[j].Item
		}
		return out[i].Location < out[j].Location
	})
	return out, nil
}

func (v *txView) Append(_ context.Context, e ledger.Entry) error {
	v.entries = append(v.entries, e)
	return nil
}

func (v *txView) Query(_ context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	all := make([]ledger.Entry, 0, len(v.parent.entries)+len(v.entries))
	all = append(all, v.parent.entries...)
	all = append(all, v.entries...)
	return queryEntries(all, filter), nil
}

func (v *txView) Next(_ context.Context, kind, period string) (int64, error) {
	k := seqKey{Kind: kind, Period: period}
	n, staged := v.seqs[k]
	if !staged {
		n = v.parent.seqs[k]
	}
	n++
	v.seqs[k] = n
	return n, nil
}
