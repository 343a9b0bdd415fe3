// Package broker defines the brokerage abstraction the host engine consumes:
// order placement/replacement/cancellation, account queries, market-data
// subscriptions, and the asynchronous order event feed.
package broker

import (
	"context"

	"schwabbridge/internal/domain"
)

// Broker abstracts one brokerage connection. Implementations deliver order
// lifecycle transitions on the Events channel; the synchronous methods only
// report acceptance of the request, not its outcome.
type Broker interface {
	// Name returns the broker identifier (e.g. "schwab", "simulator").
	Name() string

	// Connect establishes the session: authentication, account resolution,
	// and the streaming channel. Must be called before any other operation.
	Connect(ctx context.Context) error

	// Close tears the session down. Pending bounded waits return failure.
	Close() error

	// PlaceOrder submits a logical order. Legs of a multi-leg group are
	// cached until the last leg arrives, then submitted as one combo.
	PlaceOrder(ctx context.Context, o *domain.Order) error

	// UpdateOrder replaces a working order and blocks until the brokerage
	// confirms the replacement is live, or a bounded wait expires.
	UpdateOrder(ctx context.Context, o *domain.Order) error

	// CancelOrder requests cancellation. It returns false with no error
	// when there is nothing to do (order already terminal).
	CancelOrder(ctx context.Context, o *domain.Order) (bool, error)

	// GetOpenOrders returns orders still working at the brokerage.
	GetOpenOrders(ctx context.Context) ([]*domain.Order, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetBalances returns a snapshot of the account's financial metrics.
	GetBalances(ctx context.Context) (*domain.AccountBalances, error)

	// Events returns the order event feed. The channel is buffered; slow
	// consumers lose events rather than blocking reconciliation.
	Events() <-chan domain.OrderEvent

	// Subscribe starts level-one market data for the instruments.
	Subscribe(ctx context.Context, instruments []domain.Instrument) error

	// Unsubscribe stops level-one market data for the instruments.
	Unsubscribe(ctx context.Context, instruments []domain.Instrument) error
}
