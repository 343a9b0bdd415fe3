package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"schwabbridge/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal backed by a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use journal.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id         INTEGER PRIMARY KEY,
			symbol     TEXT NOT NULL,
			quantity   TEXT NOT NULL,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL,
			broker_ids TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS order_events (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id      INTEGER NOT NULL,
			kind          TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT '',
			old_broker_id TEXT NOT NULL DEFAULT '',
			new_broker_id TEXT NOT NULL DEFAULT '',
			message       TEXT NOT NULL DEFAULT '',
			ts            INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_order_events_order_id ON order_events(order_id);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	`)
	return err
}

// ---------------------------------------------------------------------------
// Journal implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts the order's journal row, or refreshes its mutable
// columns if the row exists.
func (j *SQLiteJournal) SaveOrder(ctx context.Context, o *domain.Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, quantity, kind, status, broker_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status     = excluded.status,
			broker_ids = excluded.broker_ids,
			updated_at = excluded.updated_at`,
		o.ID,
		o.Instrument.String(),
		o.Quantity.String(),
		string(o.Kind),
		string(o.Status),
		strings.Join(o.BrokerIDs, ","),
		created.UnixMilli(),
		updated.UnixMilli(),
	)
	return err
}

// ListOrders returns journal rows matching the given status; an empty
// status returns everything.
func (j *SQLiteJournal) ListOrders(ctx context.Context, status domain.OrderStatus) ([]OrderRecord, error) {
	query := `SELECT id, symbol, quantity, kind, status, broker_ids, created_at, updated_at FROM orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Quantity, &r.Kind, &r.Status, &r.BrokerIDs, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordEvent appends one lifecycle event.
func (j *SQLiteJournal) RecordEvent(ctx context.Context, e domain.OrderEvent) error {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO order_events (order_id, kind, status, old_broker_id, new_broker_id, message, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.OrderID,
		string(e.Kind),
		string(e.Status),
		e.OldBrokerID,
		e.NewBrokerID,
		e.Message,
		ts.UnixMilli(),
	)
	return err
}

// ListEvents returns the events journaled for one order, oldest first.
func (j *SQLiteJournal) ListEvents(ctx context.Context, orderID int64) ([]EventRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, order_id, kind, status, old_broker_id, new_broker_id, message, ts
		FROM order_events WHERE order_id = ? ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.Seq, &r.OrderID, &r.Kind, &r.Status, &r.OldBrokerID, &r.NewBrokerID, &r.Message, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
