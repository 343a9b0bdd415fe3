// Package orders tracks the lifecycle of logical orders at the brokerage:
// grouping of multi-leg orders, correlation of brokerage-assigned IDs back to
// host orders, and reconciliation of asynchronous stream events against
// pending local state.
package orders

import (
	"sync"

	"schwabbridge/internal/domain"
)

// GroupCache collects the legs of multi-leg orders until every declared leg
// has arrived, then releases the full set exactly once. The brokerage takes
// a combo order as one request, so submission must wait for the last leg.
type GroupCache struct {
	mu      sync.Mutex
	pending map[string]*pendingGroup
}

type pendingGroup struct {
	members []*domain.Order
	claimed bool
}

// NewGroupCache creates an empty group cache.
func NewGroupCache() *GroupCache {
	return &GroupCache{pending: make(map[string]*pendingGroup)}
}

// TryGetReadyGroup registers the order under its group and reports whether
// the group is complete. Non-grouped orders are immediately ready as a
// singleton. For grouped orders the full member set is returned exactly
// once, in registration order, when the last declared leg registers; the
// entry is then claimed and a later registration against the same group ID
// starts a fresh transaction rather than re-releasing the old set.
func (c *GroupCache) TryGetReadyGroup(o *domain.Order) ([]*domain.Order, bool) {
	if o.Group == nil {
		return []*domain.Order{o}, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.pending[o.Group.GroupID]
	if !ok || g.claimed {
		g = &pendingGroup{}
		c.pending[o.Group.GroupID] = g
	}

	for _, m := range g.members {
		if m.ID == o.ID {
			// Already registered; still waiting on siblings.
			return nil, false
		}
	}
	g.members = append(g.members, o)

	if len(g.members) < o.Group.LegCount {
		return nil, false
	}

	g.claimed = true
	members := make([]*domain.Order, len(g.members))
	copy(members, g.members)
	return members, true
}

// Members returns the currently registered legs of a claimed or pending
// group, in registration order. Used to address sibling legs for group-wide
// cancels.
func (c *GroupCache) Members(groupID string) []*domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.pending[groupID]
	if !ok {
		return nil
	}
	members := make([]*domain.Order, len(g.members))
	copy(members, g.members)
	return members
}

// Release drops a group entry once all legs reached a terminal status or
// the group was canceled.
func (c *GroupCache) Release(groupID string) {
	c.mu.Lock()
	delete(c.pending, groupID)
	c.mu.Unlock()
}
