package orders

import (
	"testing"

	"github.com/shopspring/decimal"

	"schwabbridge/internal/domain"
)

func groupLeg(id int64, groupID string, legCount int) *domain.Order {
	return &domain.Order{
		ID:         id,
		Instrument: domain.NewEquity("SPY"),
		Quantity:   decimal.NewFromInt(1),
		Kind:       domain.OrderMarket,
		Group: &domain.GroupOrderProperties{
			GroupID:  groupID,
			LegCount: legCount,
			Quantity: decimal.NewFromInt(1),
		},
	}
}

func TestSingletonIsImmediatelyReady(t *testing.T) {
	c := NewGroupCache()
	o := &domain.Order{ID: 1, Instrument: domain.NewEquity("AAPL"), Quantity: decimal.NewFromInt(1)}

	got, ready := c.TryGetReadyGroup(o)
	if !ready || len(got) != 1 || got[0] != o {
		t.Fatalf("singleton ready = %v, members = %v", ready, got)
	}
}

func TestGroupReleasesOnLastLeg(t *testing.T) {
	c := NewGroupCache()

	if _, ready := c.TryGetReadyGroup(groupLeg(1, "g1", 2)); ready {
		t.Fatal("group ready after 1 of 2 legs")
	}
	got, ready := c.TryGetReadyGroup(groupLeg(2, "g1", 2))
	if !ready {
		t.Fatal("group not ready after all legs registered")
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("members = %v, want registration order 1,2", got)
	}
}

func TestClaimedGroupIsNotReReleased(t *testing.T) {
	c := NewGroupCache()
	c.TryGetReadyGroup(groupLeg(1, "g1", 2))
	c.TryGetReadyGroup(groupLeg(2, "g1", 2))

	// A third registration against the same group ID starts a fresh
	// transaction; the claimed set must not come back.
	got, ready := c.TryGetReadyGroup(groupLeg(3, "g1", 2))
	if ready {
		t.Fatalf("fresh transaction ready after 1 leg, members = %v", got)
	}
	got, ready = c.TryGetReadyGroup(groupLeg(4, "g1", 2))
	if !ready || len(got) != 2 || got[0].ID != 3 || got[1].ID != 4 {
		t.Errorf("second transaction members = %v, want 3,4", got)
	}
}

func TestDuplicateLegIsIgnored(t *testing.T) {
	c := NewGroupCache()
	leg := groupLeg(1, "g1", 2)

	c.TryGetReadyGroup(leg)
	if _, ready := c.TryGetReadyGroup(leg); ready {
		t.Fatal("duplicate registration completed the group")
	}
	if got := c.Members("g1"); len(got) != 1 {
		t.Errorf("members after duplicate = %d, want 1", len(got))
	}
}

func TestReleaseDropsGroupState(t *testing.T) {
	c := NewGroupCache()
	c.TryGetReadyGroup(groupLeg(1, "g1", 3))
	c.Release("g1")

	if got := c.Members("g1"); got != nil {
		t.Errorf("members after release = %v, want nil", got)
	}
}
