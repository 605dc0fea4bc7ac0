/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.RecordStore, ledger.LogStore, ledger.SequenceStore, and
  ledger.TxRunner over database/sql. The same patterns apply to PostgreSQL;
  only minor SQL dialect differences.

KEY TABLES:
  stock_records:      one row per (item, location), versioned for
                      optimistic concurrency
  stock_transactions: append-only movement log - no UPDATE, no DELETE
  sequences:          per-(kind, period) counters, incremented atomically
                      with ON CONFLICT ... DO UPDATE ... RETURNING

OPTIMISTIC VERSIONING:
  Updates are guarded with WHERE version = ?; zero rows affected means a
  concurrent writer got there first and surfaces as ErrVersionConflict for
  the Coordinator to retry. Creates race through the primary key: a losing
  INSERT maps to the same error.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/stock.db")   // ":memory:" for tests
  engine := ledger.NewEngine(store, logger)

SEE ALSO:
  - ledger/store.go: Interface contracts
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/forgeworks/stock-engine/ledger"
)

// Store implements all ledger storage interfaces over SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Current-state balance per (item, location). Version backs the
	-- optimistic concurrency check; rows are never deleted, only retired.
	CREATE TABLE IF NOT EXISTS stock_records (
		item TEXT NOT NULL,
		location TEXT NOT NULL,
		item_name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		current_qty TEXT NOT NULL,
		reserved_qty TEXT NOT NULL,
		avg_unit_cost TEXT NOT NULL,
		batches_json TEXT,
		minimum_qty TEXT NOT NULL DEFAULT '0',
		reorder_point TEXT NOT NULL DEFAULT '0',
		maximum_qty TEXT NOT NULL DEFAULT '0',
		active INTEGER NOT NULL DEFAULT 1,
		last_transaction_at TEXT,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL,
		PRIMARY KEY (item, location)
	);

	-- Append-only movement log. No UPDATE or DELETE statements exist for
	-- this table anywhere in the codebase.
	CREATE TABLE IF NOT EXISTS stock_transactions (
		id TEXT PRIMARY KEY,
		sequence_number TEXT NOT NULL UNIQUE,
		item TEXT NOT NULL,
		location TEXT NOT NULL,
		kind TEXT NOT NULL,
		quantity_delta TEXT NOT NULL,
		unit_cost TEXT NOT NULL DEFAULT '0',
		total_value TEXT NOT NULL DEFAULT '0',
		previous_qty TEXT NOT NULL,
		resulting_qty TEXT NOT NULL,
		reference_kind TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		batch_id TEXT NOT NULL DEFAULT '',
		expiry TEXT,
		actor TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL
	);

	-- Hot path: per-key history in sequence order.
	CREATE INDEX IF NOT EXISTS idx_stock_tx_key_seq
		ON stock_transactions(item, location, sequence_number);
	CREATE INDEX IF NOT EXISTS idx_stock_tx_occurred
		ON stock_transactions(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_stock_tx_reference
		ON stock_transactions(reference_id) WHERE reference_id != '';
	CREATE INDEX IF NOT EXISTS idx_stock_tx_kind
		ON stock_transactions(kind);

	-- Per-(kind, period) document number counters.
	CREATE TABLE IF NOT EXISTS sequences (
		kind TEXT NOT NULL,
		period TEXT NOT NULL,
		value INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (kind, period)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxStores accessors: outside a transaction the store is its own view.

func (s *Store) Records() ledger.RecordStore     { return s }
func (s *Store) Log() ledger.LogStore            { return s }
func (s *Store) Sequences() ledger.SequenceStore { return s }

// =============================================================================
// RECORD STORE
// =============================================================================

const recordColumns = `item, location, item_name, category, unit,
	current_qty, reserved_qty, avg_unit_cost, batches_json,
	minimum_qty, reorder_point, maximum_qty, active,
	last_transaction_at, created_at, version`

func (s *Store) Load(ctx context.Context, key ledger.StockKey) (ledger.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadRecord(ctx, s.db, key)
}

func loadRecord(ctx context.Context, db dbtx, key ledger.StockKey) (ledger.StockRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM stock_records WHERE item = ? AND location = ?`,
		key.Item, key.Location)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return ledger.StockRecord{}, ledger.ErrRecordNotFound
	}
	if err != nil {
		return ledger.StockRecord{}, fmt.Errorf("%w: load record: %v", ledger.ErrStorage, err)
	}
	return rec, nil
}

func (s *Store) Upsert(ctx context.Context, rec ledger.StockRecord, expectedVersion int64) (ledger.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertRecord(ctx, s.db, rec, expectedVersion)
}

func upsertRecord(ctx context.Context, db dbtx, rec ledger.StockRecord, expectedVersion int64) (ledger.StockRecord, error) {
	batchesJSON, _ := json.Marshal(rec.Batches)
	var lastTx any
	if !rec.LastTransactionAt.IsZero() {
		lastTx = rec.LastTransactionAt.UTC().Format(time.RFC3339)
	}

	if expectedVersion == 0 {
		rec.Version = 1
		_, err := db.ExecContext(ctx, `
			INSERT INTO stock_records
			(item, location, item_name, category, unit, current_qty, reserved_qty,
			 avg_unit_cost, batches_json, minimum_qty, reorder_point, maximum_qty,
			 active, last_transaction_at, created_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Item, rec.Location, rec.ItemName, rec.Category, rec.Unit,
			rec.CurrentQuantity.String(), rec.ReservedQuantity.String(),
			rec.AverageUnitCost.String(), string(batchesJSON),
			rec.MinimumQuantity.String(), rec.ReorderPoint.String(), rec.MaximumQuantity.String(),
			rec.Active, lastTx, rec.CreatedAt.UTC().Format(time.RFC3339), rec.Version,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				// Lost a create race; the retry loop reloads and re-applies.
				return ledger.StockRecord{}, ledger.ErrVersionConflict
			}
			return ledger.StockRecord{}, fmt.Errorf("%w: insert record: %v", ledger.ErrStorage, err)
		}
		return rec, nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE stock_records SET
			item_name = ?, category = ?, unit = ?,
			current_qty = ?, reserved_qty = ?, avg_unit_cost = ?,
			batches_json = ?, minimum_qty = ?, reorder_point = ?, maximum_qty = ?,
			active = ?, last_transaction_at = ?, version = version + 1
		WHERE item = ? AND location = ? AND version = ?`,
		rec.ItemName, rec.Category, rec.Unit,
		rec.CurrentQuantity.String(), rec.ReservedQuantity.String(), rec.AverageUnitCost.String(),
		string(batchesJSON),
		rec.MinimumQuantity.String(), rec.ReorderPoint.String(), rec.MaximumQuantity.String(),
		rec.Active, lastTx,
		rec.Item, rec.Location, expectedVersion,
	)
	if err != nil {
		return ledger.StockRecord{}, fmt.Errorf("%w: update record: %v", ledger.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.StockRecord{}, fmt.Errorf("%w: rows affected: %v", ledger.ErrStorage, err)
	}
	if n == 0 {
		return ledger.StockRecord{}, ledger.ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	return rec, nil
}

func (s *Store) List(ctx context.Context, filter ledger.RecordFilter) ([]ledger.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listRecords(ctx, s.db, filter)
}

func listRecords(ctx context.Context, db dbtx, filter ledger.RecordFilter) ([]ledger.StockRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM stock_records WHERE 1=1`
	var args []any
	if filter.Item != "" {
		query += ` AND item = ?`
		args = append(args, filter.Item)
	}
	if filter.Location != "" {
		query += ` AND location = ?`
		args = append(args, filter.Location)
	}
	if !filter.IncludeRetired {
		query += ` AND active = 1`
	}
	query += ` ORDER BY item, location`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", ledger.ErrStorage, err)
	}
	defer rows.Close()

	var out []ledger.StockRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", ledger.ErrStorage, err)
		}
		// Threshold comparisons are decimal arithmetic, done here rather
		// than on the TEXT columns.
		if filter.LowStockOnly && !rec.IsLowStock() {
			continue
		}
		if filter.CriticalOnly && !rec.IsCritical() {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ledger.StockRecord, error) {
	var (
		rec                              ledger.StockRecord
		currentQty, reservedQty, avgCost string
		minQty, reorderPt, maxQty        string
		batchesJSON, lastTx              sql.NullString
		createdAt                        string
	)

	err := row.Scan(
		&rec.Item, &rec.Location, &rec.ItemName, &rec.Category, &rec.Unit,
		&currentQty, &reservedQty, &avgCost, &batchesJSON,
		&minQty, &reorderPt, &maxQty, &rec.Active,
		&lastTx, &createdAt, &rec.Version,
	)
	if err != nil {
		return rec, err
	}

	rec.CurrentQuantity = ledger.MustQty(currentQty)
	rec.ReservedQuantity = ledger.MustQty(reservedQty)
	rec.AverageUnitCost = ledger.MustQty(avgCost)
	rec.MinimumQuantity = ledger.MustQty(minQty)
	rec.ReorderPoint = ledger.MustQty(reorderPt)
	rec.MaximumQuantity = ledger.MustQty(maxQty)
	if batchesJSON.Valid && batchesJSON.String != "" && batchesJSON.String != "null" {
		json.Unmarshal([]byte(batchesJSON.String), &rec.Batches)
	}
	if lastTx.Valid {
		rec.LastTransactionAt, _ = time.Parse(time.RFC3339, lastTx.String)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return rec, nil
}

// =============================================================================
// LOG STORE (append-only)
// =============================================================================

func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db dbtx, e ledger.Entry) error {
	var expiry any
	if e.Expiry != nil {
		expiry = e.Expiry.UTC().Format(time.RFC3339)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO stock_transactions
		(id, sequence_number, item, location, kind, quantity_delta, unit_cost,
		 total_value, previous_qty, resulting_qty, reference_kind, reference_id,
		 batch_id, expiry, actor, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SequenceNumber, e.Item, e.Location, e.Kind,
		e.QuantityDelta.String(), e.UnitCost.String(), e.TotalValue.String(),
		e.PreviousQuantity.String(), e.ResultingQuantity.String(),
		e.Reference.Kind, e.Reference.ID, e.Batch, expiry,
		e.Actor, e.Reason, e.OccurredAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: append entry: %v", ledger.ErrStorage, err)
	}
	return nil
}

const entryColumns = `id, sequence_number, item, location, kind, quantity_delta,
	unit_cost, total_value, previous_qty, resulting_qty, reference_kind,
	reference_id, batch_id, expiry, actor, reason, occurred_at`

func (s *Store) Query(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryEntries(ctx, s.db, filter)
}

func queryEntries(ctx context.Context, db dbtx, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM stock_transactions WHERE 1=1`
	var args []any
	if filter.Item != "" {
		query += ` AND item = ?`
		args = append(args, filter.Item)
	}
	if filter.Location != "" {
		query += ` AND location = ?`
		args = append(args, filter.Location)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.From != nil {
		query += ` AND occurred_at >= ?`
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		query += ` AND occurred_at <= ?`
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}
	// Sequence order, not string order: the numeric suffix is unpadded past
	// 9999, so '...-10000' sorts before '...-9999' as a plain string. The
	// KIND-YYYYMM prefix is 10 chars (kinds are three letters); comparing
	// prefix, then suffix width, then the full string restores numeric order.
	query += ` ORDER BY substr(sequence_number, 1, 10) ASC, length(sequence_number) ASC, sequence_number ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query entries: %v", ledger.ErrStorage, err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e                           ledger.Entry
			delta, unitCost, totalValue string
			prevQty, resQty             string
			expiry                      sql.NullString
			occurredAt                  string
		)
		if err := rows.Scan(
			&e.ID, &e.SequenceNumber, &e.Item, &e.Location, &e.Kind,
			&delta, &unitCost, &totalValue, &prevQty, &resQty,
			&e.Reference.Kind, &e.Reference.ID, &e.Batch, &expiry,
			&e.Actor, &e.Reason, &occurredAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", ledger.ErrStorage, err)
		}

		e.QuantityDelta = ledger.MustQty(delta)
		e.UnitCost = ledger.MustQty(unitCost)
		e.TotalValue = ledger.MustQty(totalValue)
		e.PreviousQuantity = ledger.MustQty(prevQty)
		e.ResultingQuantity = ledger.MustQty(resQty)
		if expiry.Valid {
			t, _ := time.Parse(time.RFC3339, expiry.String)
			e.Expiry = &t
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SEQUENCE STORE
// =============================================================================

func (s *Store) Next(ctx context.Context, kind, period string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextSequence(ctx, s.db, kind, period)
}

func nextSequence(ctx context.Context, db dbtx, kind, period string) (int64, error) {
	// Atomic increment-and-fetch. Never SELECT COUNT then format: that
	// collides under concurrency.
	var value int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO sequences (kind, period, value) VALUES (?, ?, 1)
		ON CONFLICT(kind, period) DO UPDATE SET value = value + 1
		RETURNING value`,
		kind, period,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("%w: next sequence: %v", ledger.ErrStorage, err)
	}
	return value, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within one database transaction. The record upsert,
// the log append, and the sequence increment commit together or roll back
// together.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.TxStores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ledger.ErrStorage, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStores{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ledger.ErrStorage, err)
	}
	return nil
}

type txStores struct {
	tx *sql.Tx
}

func (t *txStores) Records() ledger.RecordStore     { return recordTx{t.tx} }
func (t *txStores) Log() ledger.LogStore            { return logTx{t.tx} }
func (t *txStores) Sequences() ledger.SequenceStore { return seqTx{t.tx} }

type recordTx struct{ tx *sql.Tx }

func (r recordTx) Load(ctx context.Context, key ledger.StockKey) (ledger.StockRecord, error) {
	return loadRecord(ctx, r.tx, key)
}

func (r recordTx) Upsert(ctx context.Context, rec ledger.StockRecord, expectedVersion int64) (ledger.StockRecord, error) {
	return upsertRecord(ctx, r.tx, rec, expectedVersion)
}

func (r recordTx) List(ctx context.Context, filter ledger.RecordFilter) ([]ledger.StockRecord, error) {
	return listRecords(ctx, r.tx, filter)
}

type logTx struct{ tx *sql.Tx }

func (l logTx) Append(ctx context.Context, e ledger.Entry) error {
	return appendEntry(ctx, l.tx, e)
}

func (l logTx) Query(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	return queryEntries(ctx, l.tx, filter)
}

type seqTx struct{ tx *sql.Tx }

func (q seqTx) Next(ctx context.Context, kind, period string) (int64, error) {
	return nextSequence(ctx, q.tx, kind, period)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (tests and dev only).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"stock_records", "stock_transactions", "sequences"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
