package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"schwabbridge/internal/domain"
)

const (
	// legIDIncrement is the brokerage's fixed offset between the per-leg
	// order IDs of one combo: leg i carries firstID + i. Not negotiable.
	legIDIncrement = 1

	// DefaultUpdateTimeout bounds the wait for the stream to confirm a
	// replacement order is live.
	DefaultUpdateTimeout = 5 * time.Second
)

// OutCancelType classifies an order-out stream event.
type OutCancelType string

const (
	// OutSystemReject means the brokerage's validation rejected the order.
	OutSystemReject OutCancelType = "SYSTEM_REJECT_CANCEL"
	// OutClientCancel means a cancel requested by this client completed.
	OutClientCancel OutCancelType = "CLIENT_CANCEL"
)

// idState distinguishes why a brokerage ID is in the correlation table.
// The replace window uses the two transient states so late events against
// the retired ID are not misreported as user-initiated cancellations.
type idState int

const (
	idLive idState = iota
	idAwaitingCutover      // old ID of an in-flight replace
	idAwaitingConfirmation // new ID of an in-flight replace
)

type idEntry struct {
	order *domain.Order
	state idState
}

type pendingUpdate struct {
	oldID     string
	newID     string
	confirmed chan struct{} // closed exactly once
	failed    bool          // set before close when the replace died
}

// Tracker is the order ID correlation table and event reconciler. One
// mutex serializes every outbound mutation's bookkeeping against inbound
// stream event handling, so a fill for an order can never interleave with
// that order's ID assignment. The emit callback must not block; it is
// invoked with the tracker lock held.
type Tracker struct {
	log           *slog.Logger
	emit          func(domain.OrderEvent)
	fallback      domain.OrderProvider // optional resolution behind the table
	updateTimeout time.Duration

	mu         sync.Mutex
	byBrokerID map[string]*idEntry
	updates    map[int64]*pendingUpdate // host order ID -> in-flight replace

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewTracker creates a tracker emitting order events through emit. The
// fallback provider may be nil.
func NewTracker(log *slog.Logger, emit func(domain.OrderEvent), fallback domain.OrderProvider) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		log:           log.With("component", "orders"),
		emit:          emit,
		fallback:      fallback,
		updateTimeout: DefaultUpdateTimeout,
		byBrokerID:    make(map[string]*idEntry),
		updates:       make(map[int64]*pendingUpdate),
		shutdown:      make(chan struct{}),
	}
}

// SetUpdateTimeout overrides the replace-confirmation wait. Zero or
// negative values are ignored.
func (t *Tracker) SetUpdateTimeout(d time.Duration) {
	if d > 0 {
		t.updateTimeout = d
	}
}

// Close releases pending waits. Blocked Update calls return failure
// instead of hanging through shutdown.
func (t *Tracker) Close() {
	t.shutdownOnce.Do(func() { close(t.shutdown) })
}

// ---------------------------------------------------------------------------
// Outbound operations
// ---------------------------------------------------------------------------

// Place submits one order or one complete combo. The network call and the
// local bookkeeping run inside the shared critical section, so a stream
// event for the new order cannot be processed before its ID is registered.
// On submission failure every leg transitions to Invalid and a status event
// carries the reason; no retry happens here.
func (t *Tracker) Place(ctx context.Context, legs []*domain.Order, submit func(context.Context) (string, error)) error {
	if len(legs) == 0 {
		return fmt.Errorf("place called with no orders: %w", domain.ErrUnsupportedOperation)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	firstID, err := submit(ctx)
	if err != nil {
		now := time.Now()
		for _, leg := range legs {
			leg.Status = domain.StatusInvalid
			t.emit(domain.OrderEvent{
				Kind:    domain.EventStatusChanged,
				OrderID: leg.ID,
				Status:  domain.StatusInvalid,
				Message: err.Error(),
				Time:    now,
			})
		}
		return err
	}

	t.registerLegsLocked(legs, firstID)
	now := time.Now()
	for _, leg := range legs {
		leg.Status = domain.StatusSubmitted
		t.emit(domain.OrderEvent{
			Kind:    domain.EventStatusChanged,
			OrderID: leg.ID,
			Status:  domain.StatusSubmitted,
			Time:    now,
		})
	}
	return nil
}

// registerLegsLocked assigns brokerage IDs to every leg. The brokerage
// returns only the first leg's ID; sibling legs hold IDs offset by the
// fixed per-leg increment.
func (t *Tracker) registerLegsLocked(legs []*domain.Order, firstID string) {
	base, parseErr := strconv.ParseInt(firstID, 10, 64)
	for i, leg := range legs {
		id := firstID
		if i > 0 {
			if parseErr != nil {
				t.log.Error("cannot derive sibling leg IDs from non-numeric order ID",
					"brokerID", firstID, "leg", i)
				continue
			}
			id = strconv.FormatInt(base+int64(i)*legIDIncrement, 10)
		}
		leg.BrokerIDs = append(leg.BrokerIDs, id)
		t.byBrokerID[id] = &idEntry{order: leg, state: idLive}
	}
}

// RegisterExisting adds an already-working order (e.g. found via the open
// orders endpoint after a restart) to the correlation table.
func (t *Tracker) RegisterExisting(o *domain.Order) {
	id := o.ActiveBrokerID()
	if id == "" {
		return
	}
	t.mu.Lock()
	t.byBrokerID[id] = &idEntry{order: o, state: idLive}
	t.mu.Unlock()
}

// Update replaces a working order. The brokerage implements replace as
// cancel-old-plus-create-new with a fresh ID. Inside one critical section
// the old ID is marked awaiting-cutover (so its cancel completion is not
// reported to the host as a user cancel) and the new ID awaiting
// confirmation. The call then blocks until the stream confirms the new
// order is live, the timeout lapses, or shutdown begins; on anything but
// confirmation the markers are rolled back and the update reports failure.
func (t *Tracker) Update(ctx context.Context, o *domain.Order, submit func(context.Context) (string, error)) error {
	t.mu.Lock()

	if o.Status.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("order %d already %s: %w", o.ID, o.Status, domain.ErrUnsupportedOperation)
	}
	oldID := o.ActiveBrokerID()
	oldEntry, ok := t.byBrokerID[oldID]
	if !ok || oldID == "" {
		t.mu.Unlock()
		return fmt.Errorf("order %d has no working brokerage ID: %w", o.ID, domain.ErrNotFound)
	}

	oldEntry.state = idAwaitingCutover

	newID, err := submit(ctx)
	if err != nil {
		oldEntry.state = idLive
		t.mu.Unlock()
		return err
	}

	pu := &pendingUpdate{oldID: oldID, newID: newID, confirmed: make(chan struct{})}
	t.byBrokerID[newID] = &idEntry{order: o, state: idAwaitingConfirmation}
	t.updates[o.ID] = pu
	t.mu.Unlock()

	select {
	case <-pu.confirmed:
		if pu.failed {
			return fmt.Errorf("replacement order %s rejected before going live", newID)
		}
		return nil
	case <-time.After(t.updateTimeout):
		t.rollbackUpdate(o, pu)
		return fmt.Errorf("no confirmation for replacement order %s: %w", newID, domain.ErrTimeout)
	case <-t.shutdown:
		t.rollbackUpdate(o, pu)
		return fmt.Errorf("shutdown while awaiting replacement order %s: %w", newID, domain.ErrTimeout)
	case <-ctx.Done():
		t.rollbackUpdate(o, pu)
		return ctx.Err()
	}
}

// rollbackUpdate removes the replace markers if the confirmation never
// arrived. A confirmation racing in first wins and the rollback is a no-op.
func (t *Tracker) rollbackUpdate(o *domain.Order, pu *pendingUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-pu.confirmed:
		return
	default:
	}

	delete(t.updates, o.ID)
	delete(t.byBrokerID, pu.newID)
	if e, ok := t.byBrokerID[pu.oldID]; ok {
		e.state = idLive
	}
}

// Cancel requests cancellation through the supplied network call. For combo
// orders the caller must pass the FIRST leg: the first leg's brokerage ID
// fronts the whole combo. Orders already terminal short-circuit with false
// and no network call.
func (t *Tracker) Cancel(ctx context.Context, o *domain.Order, cancel func(context.Context, string) (bool, error)) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if o.Status.IsTerminal() {
		t.log.Warn("cancel requested for finished order", "orderID", o.ID, "status", string(o.Status))
		return false, nil
	}
	id := o.ActiveBrokerID()
	if id == "" {
		return false, fmt.Errorf("order %d has no brokerage ID to cancel: %w", o.ID, domain.ErrNotFound)
	}
	return cancel(ctx, id)
}

// ---------------------------------------------------------------------------
// Inbound stream events
// ---------------------------------------------------------------------------

// HandleOrderOut reconciles an order-out (cancel completed) stream event.
// System rejects surface as Invalid with the concatenated validation
// messages; client cancels surface as Canceled. Events against an ID
// awaiting cutover are the brokerage-side half of a replace and are
// swallowed. ts falls back to receipt time when the brokerage omitted it.
func (t *Tracker) HandleOrderOut(brokerID string, outType OutCancelType, messages []string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.resolveLocked(brokerID)
	if e == nil {
		t.log.Error("order-out event for unknown brokerage ID", "brokerID", brokerID)
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	switch e.state {
	case idAwaitingCutover:
		// Cancel half of a replace; the host never asked for this cancel.
		delete(t.byBrokerID, brokerID)
		t.log.Debug("suppressed replace-cancel for retired ID", "brokerID", brokerID)
		return
	case idAwaitingConfirmation:
		// The replacement itself died. Unblock the updater as failed and
		// fall through so the reject still reaches the host.
		t.finishUpdateLocked(e.order, true)
	}

	status := domain.StatusCanceled
	msg := ""
	if outType == OutSystemReject {
		status = domain.StatusInvalid
		msg = strings.Join(messages, "; ")
	}
	e.order.Status = status
	delete(t.byBrokerID, brokerID)
	t.emit(domain.OrderEvent{
		Kind:    domain.EventStatusChanged,
		OrderID: e.order.ID,
		Status:  status,
		Message: msg,
		Time:    ts,
	})
}

// HandleFill reconciles a fill-completed stream event. A fill against an ID
// awaiting confirmation doubles as the replace confirmation; a fill against
// an ID awaiting cutover means the original order executed before the
// replace could cancel it, so the replace is failed and the fill reported.
func (t *Tracker) HandleFill(brokerID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.resolveLocked(brokerID)
	if e == nil {
		t.log.Error("fill event for unknown brokerage ID", "brokerID", brokerID)
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	switch e.state {
	case idAwaitingConfirmation:
		t.completeCutoverLocked(e.order, ts)
	case idAwaitingCutover:
		t.finishUpdateLocked(e.order, true)
	}

	e.order.Status = domain.StatusFilled
	delete(t.byBrokerID, brokerID)
	t.emit(domain.OrderEvent{
		Kind:    domain.EventStatusChanged,
		OrderID: e.order.ID,
		Status:  domain.StatusFilled,
		Time:    ts,
	})
}

// HandlePartialFill reconciles a partial execution report.
func (t *Tracker) HandlePartialFill(brokerID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.resolveLocked(brokerID)
	if e == nil {
		t.log.Error("partial-fill event for unknown brokerage ID", "brokerID", brokerID)
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	if e.state == idAwaitingConfirmation {
		t.completeCutoverLocked(e.order, ts)
	}

	e.order.Status = domain.StatusPartiallyFilled
	t.emit(domain.OrderEvent{
		Kind:    domain.EventStatusChanged,
		OrderID: e.order.ID,
		Status:  domain.StatusPartiallyFilled,
		Time:    ts,
	})
}

// HandleAccepted reconciles an order-accepted event. Its main job is
// confirming replacement orders; accepts for already-live IDs carry no new
// information.
func (t *Tracker) HandleAccepted(brokerID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byBrokerID[brokerID]
	if !ok || e.state != idAwaitingConfirmation {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	t.completeCutoverLocked(e.order, ts)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// resolveLocked finds the entry for a brokerage ID, consulting the host's
// order provider for orders this process never placed.
func (t *Tracker) resolveLocked(brokerID string) *idEntry {
	if e, ok := t.byBrokerID[brokerID]; ok {
		return e
	}
	if t.fallback != nil {
		if o, ok := t.fallback.OrderByBrokerID(brokerID); ok {
			e := &idEntry{order: o, state: idLive}
			t.byBrokerID[brokerID] = e
			return e
		}
	}
	return nil
}

// completeCutoverLocked finishes a replace: the new ID joins the order's
// identifier history as the active ID, the order reports UpdateSubmitted,
// and the blocked updater is released.
func (t *Tracker) completeCutoverLocked(o *domain.Order, ts time.Time) {
	pu, ok := t.updates[o.ID]
	if !ok {
		return
	}

	o.BrokerIDs = append(o.BrokerIDs, pu.newID)
	if e, ok := t.byBrokerID[pu.newID]; ok {
		e.state = idLive
	}
	o.Status = domain.StatusUpdateSubmitted

	t.emit(domain.OrderEvent{
		Kind:        domain.EventIDChanged,
		OrderID:     o.ID,
		OldBrokerID: pu.oldID,
		NewBrokerID: pu.newID,
		Time:        ts,
	})
	t.emit(domain.OrderEvent{
		Kind:    domain.EventStatusChanged,
		OrderID: o.ID,
		Status:  domain.StatusUpdateSubmitted,
		Time:    ts,
	})

	t.finishUpdateLocked(o, false)
}

// finishUpdateLocked releases a blocked Update call exactly once. On
// failure the replace markers are removed and the original ID returns to
// live, mirroring rollbackUpdate, so later events against the still-working
// original reconcile normally.
func (t *Tracker) finishUpdateLocked(o *domain.Order, failed bool) {
	pu, ok := t.updates[o.ID]
	if !ok {
		return
	}
	pu.failed = failed
	close(pu.confirmed)
	delete(t.updates, o.ID)
	if failed {
		delete(t.byBrokerID, pu.newID)
		if e, ok := t.byBrokerID[pu.oldID]; ok && e.state == idAwaitingCutover {
			e.state = idLive
		}
	}
}
