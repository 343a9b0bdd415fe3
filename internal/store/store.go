// Package store persists the adapter's durable records: an execution
// journal of orders and their lifecycle events in SQLite, and captured
// level-one ticks in Parquet files.
package store

import (
	"context"
	"time"

	"schwabbridge/internal/domain"
)

// OrderRecord is the journal's flattened view of one order.
type OrderRecord struct {
	ID        int64
	Symbol    string
	Quantity  string
	Kind      string
	Status    string
	BrokerIDs string // comma-joined ID history, newest last
	CreatedAt int64  // Unix ms
	UpdatedAt int64  // Unix ms
}

// EventRecord is one journaled order lifecycle event.
type EventRecord struct {
	Seq         int64
	OrderID     int64
	Kind        string
	Status      string
	OldBrokerID string
	NewBrokerID string
	Message     string
	Timestamp   int64 // Unix ms
}

// Journal records orders and their lifecycle events for audit and
// post-session reconciliation.
type Journal interface {
	// SaveOrder inserts or updates the order's journal row.
	SaveOrder(ctx context.Context, o *domain.Order) error

	// ListOrders returns journal rows matching the given status; an empty
	// status returns everything.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]OrderRecord, error)

	// RecordEvent appends one lifecycle event.
	RecordEvent(ctx context.Context, e domain.OrderEvent) error

	// ListEvents returns the events journaled for one order, oldest first.
	ListEvents(ctx context.Context, orderID int64) ([]EventRecord, error)
}

// TickStore persists and retrieves captured level-one ticks.
type TickStore interface {
	// WriteTicks persists a batch of ticks to storage.
	WriteTicks(ctx context.Context, ticks []domain.QuoteTick) error

	// ReadTicks returns ticks for the given wire symbol within [start, end].
	ReadTicks(ctx context.Context, symbol string, start, end time.Time) ([]domain.QuoteTick, error)
}
