package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"schwabbridge/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for dry runs. Orders fill
// immediately at their limit price (or zero for market orders) and positions
// are tracked in memory without external calls.
type SimulatorBroker struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*domain.Order
	positions map[string]*domain.Position
	events    chan domain.OrderEvent
}

// NewSimulatorBroker creates a simulator with an empty account.
func NewSimulatorBroker(eventBuffer int) *SimulatorBroker {
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	return &SimulatorBroker{
		nextID:    1,
		orders:    make(map[int64]*domain.Order),
		positions: make(map[string]*domain.Position),
		events:    make(chan domain.OrderEvent, eventBuffer),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string { return "simulator" }

// Connect is a no-op for the simulator.
func (b *SimulatorBroker) Connect(_ context.Context) error { return nil }

// Close is a no-op for the simulator.
func (b *SimulatorBroker) Close() error { return nil }

// PlaceOrder records the order, assigns a synthetic brokerage ID, and fills
// it immediately.
func (b *SimulatorBroker) PlaceOrder(_ context.Context, o *domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := strconv.FormatInt(b.nextID, 10)
	b.nextID++
	o.BrokerIDs = append(o.BrokerIDs, id)
	o.Status = domain.StatusSubmitted
	b.orders[o.ID] = o
	b.emit(domain.OrderEvent{Kind: domain.EventStatusChanged, OrderID: o.ID, Status: domain.StatusSubmitted, Time: time.Now()})

	b.applyFillLocked(o)
	return nil
}

// UpdateOrder replaces the recorded order parameters. Terminal orders cannot
// be updated.
func (b *SimulatorBroker) UpdateOrder(_ context.Context, o *domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", o.ID, domain.ErrNotFound)
	}
	if existing.Status.IsTerminal() {
		return fmt.Errorf("order %d already %s: %w", o.ID, existing.Status, domain.ErrUnsupportedOperation)
	}

	oldID := o.ActiveBrokerID()
	newID := strconv.FormatInt(b.nextID, 10)
	b.nextID++
	o.BrokerIDs = append(o.BrokerIDs, newID)
	o.Status = domain.StatusUpdateSubmitted
	b.orders[o.ID] = o
	b.emit(domain.OrderEvent{Kind: domain.EventIDChanged, OrderID: o.ID, OldBrokerID: oldID, NewBrokerID: newID, Time: time.Now()})
	b.emit(domain.OrderEvent{Kind: domain.EventStatusChanged, OrderID: o.ID, Status: domain.StatusUpdateSubmitted, Time: time.Now()})
	return nil
}

// CancelOrder marks a working order canceled. Terminal orders short-circuit
// with false.
func (b *SimulatorBroker) CancelOrder(_ context.Context, o *domain.Order) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.orders[o.ID]
	if !ok || existing.Status.IsTerminal() {
		return false, nil
	}
	existing.Status = domain.StatusCanceled
	b.emit(domain.OrderEvent{Kind: domain.EventStatusChanged, OrderID: o.ID, Status: domain.StatusCanceled, Time: time.Now()})
	return true, nil
}

// GetOpenOrders returns the simulator's non-terminal orders.
func (b *SimulatorBroker) GetOpenOrders(_ context.Context) ([]*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var open []*domain.Order
	for _, o := range b.orders {
		if !o.Status.IsTerminal() {
			open = append(open, o)
		}
	}
	return open, nil
}

// GetPositions returns all simulated positions.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, *p)
	}
	return positions, nil
}

// GetBalances returns simulated account balances.
func (b *SimulatorBroker) GetBalances(_ context.Context) (*domain.AccountBalances, error) {
	return &domain.AccountBalances{AsOf: time.Now()}, nil
}

// Events returns the simulator's order event feed.
func (b *SimulatorBroker) Events() <-chan domain.OrderEvent { return b.events }

// Subscribe is a no-op: the simulator produces no market data.
func (b *SimulatorBroker) Subscribe(_ context.Context, _ []domain.Instrument) error { return nil }

// Unsubscribe is a no-op.
func (b *SimulatorBroker) Unsubscribe(_ context.Context, _ []domain.Instrument) error { return nil }

// applyFillLocked fills the order at its limit price and adjusts positions.
func (b *SimulatorBroker) applyFillLocked(o *domain.Order) {
	o.Status = domain.StatusFilled

	key := o.Instrument.String()
	pos, ok := b.positions[key]
	if !ok {
		pos = &domain.Position{Instrument: o.Instrument}
		b.positions[key] = pos
	}
	pos.Quantity = pos.Quantity.Add(o.Quantity)
	pos.AveragePrice = o.LimitPrice
	if pos.Quantity.Equal(decimal.Zero) {
		delete(b.positions, key)
	}

	b.emit(domain.OrderEvent{Kind: domain.EventStatusChanged, OrderID: o.ID, Status: domain.StatusFilled, Time: time.Now()})
}

// emit delivers an event without blocking; slow consumers drop.
func (b *SimulatorBroker) emit(e domain.OrderEvent) {
	select {
	case b.events <- e:
	default:
	}
}
