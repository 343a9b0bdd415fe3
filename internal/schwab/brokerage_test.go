package schwab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"schwabbridge/internal/domain"
	"schwabbridge/internal/store"
)

func groupLeg(id int64, qty int64, props *domain.GroupOrderProperties) *domain.Order {
	return &domain.Order{
		ID:         id,
		Instrument: domain.NewEquity("AAPL"),
		Quantity:   decimal.NewFromInt(qty),
		Kind:       domain.OrderMarket,
		Group:      props,
	}
}

func TestGroupCacheReleasedWhenAllLegsTerminal(t *testing.T) {
	b := NewBrokerage(Options{})
	defer b.Close()

	props := &domain.GroupOrderProperties{GroupID: "g1", LegCount: 2}
	leg1 := groupLeg(1, 5, props)
	leg2 := groupLeg(2, -5, props)

	if _, ready := b.groups.TryGetReadyGroup(leg1); ready {
		t.Fatal("group ready with one of two legs")
	}
	legs, ready := b.groups.TryGetReadyGroup(leg2)
	if !ready {
		t.Fatal("group not ready with all legs registered")
	}
	b.registerGroupLegs("g1", legs)

	err := b.tracker.Place(context.Background(), legs, func(context.Context) (string, error) {
		return "9000", nil
	})
	if err != nil {
		t.Fatal(err)
	}

	b.tracker.HandleFill("9000", time.Now())
	if got := b.groups.Members("g1"); len(got) != 2 {
		t.Fatalf("group dropped with a leg still working: %d members", len(got))
	}

	b.tracker.HandleFill("9001", time.Now())
	if got := b.groups.Members("g1"); got != nil {
		t.Errorf("group entry retained after all legs terminal: %d members", len(got))
	}

	b.groupMu.Lock()
	leftover := len(b.groupOf)
	b.groupMu.Unlock()
	if leftover != 0 {
		t.Errorf("leg membership map retained %d entries", leftover)
	}
}

func TestGroupCacheReleasedOnSubmitFailure(t *testing.T) {
	b := NewBrokerage(Options{})
	defer b.Close()

	props := &domain.GroupOrderProperties{GroupID: "g2", LegCount: 2}
	legs := []*domain.Order{groupLeg(1, 5, props), groupLeg(2, -5, props)}
	for _, leg := range legs {
		b.groups.TryGetReadyGroup(leg)
	}
	b.registerGroupLegs("g2", legs)

	err := b.tracker.Place(context.Background(), legs, func(context.Context) (string, error) {
		return "", &domain.ValidationError{Messages: []string{"market closed"}}
	})
	if err == nil {
		t.Fatal("expected submission error")
	}
	if got := b.groups.Members("g2"); got != nil {
		t.Errorf("group entry retained after rejected submission: %d members", len(got))
	}
}

// blockingJournal holds RecordEvent until released, to show event emission
// never waits on journal I/O.
type blockingJournal struct {
	release chan struct{}
	mu      sync.Mutex
	events  []domain.OrderEvent
}

func (j *blockingJournal) SaveOrder(context.Context, *domain.Order) error { return nil }

func (j *blockingJournal) ListOrders(context.Context, domain.OrderStatus) ([]store.OrderRecord, error) {
	return nil, nil
}

func (j *blockingJournal) RecordEvent(_ context.Context, e domain.OrderEvent) error {
	<-j.release
	j.mu.Lock()
	j.events = append(j.events, e)
	j.mu.Unlock()
	return nil
}

func (j *blockingJournal) ListEvents(context.Context, int64) ([]store.EventRecord, error) {
	return nil, nil
}

func (j *blockingJournal) recorded() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

func TestEmitDoesNotBlockOnJournal(t *testing.T) {
	j := &blockingJournal{release: make(chan struct{})}
	b := NewBrokerage(Options{Journal: j})

	o := groupLeg(1, 10, nil)
	done := make(chan error, 1)
	go func() {
		done <- b.tracker.Place(context.Background(), []*domain.Order{o}, func(context.Context) (string, error) {
			return "1000", nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("order placement stalled on journal I/O")
	}

	close(j.release)
	deadline := time.Now().Add(time.Second)
	for j.recorded() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never reached the journal")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Close()
}
