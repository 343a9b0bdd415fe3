package schwab

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"schwabbridge/internal/book"
	"schwabbridge/internal/broker"
	"schwabbridge/internal/domain"
	"schwabbridge/internal/orders"
	"schwabbridge/internal/store"
	"schwabbridge/internal/stream"
	"schwabbridge/internal/symbols"
)

// Compile-time interface check.
var _ broker.Broker = (*Brokerage)(nil)

// Options configures a Brokerage.
type Options struct {
	Log *slog.Logger

	AppKey        string
	AppSecret     string
	RefreshToken  string
	AccountNumber string
	BaseURL       string
	AuthURL       string

	// Holdings is the host engine's view of current positions, consulted
	// for open-vs-close instruction decisions.
	Holdings domain.SecurityProvider
	// Orders resolves host orders the adapter did not place itself. May be
	// nil.
	Orders domain.OrderProvider
	// Journal persists orders and lifecycle events. May be nil.
	Journal store.Journal

	// OpenOrderLookback bounds the entered-time window for GetOpenOrders.
	OpenOrderLookback time.Duration
	// UpdateTimeout bounds the wait for replace confirmations.
	UpdateTimeout time.Duration
	// EventBuffer sizes the host-facing order event channel.
	EventBuffer int
}

// Brokerage is the adapter facade: it wires the symbol codec, order request
// builder, group cache, correlation tracker, streamer, and quote book into
// one Broker implementation.
type Brokerage struct {
	log       *slog.Logger
	opts      Options
	codec     *symbols.Codec
	tokens    *TokenSource
	api       *Client
	groups    *orders.GroupCache
	tracker   *orders.Tracker
	quotes    *book.Book
	journal   store.Journal
	events    chan domain.OrderEvent
	closeOnce sync.Once

	dispatcher *stream.Dispatcher
	socket     *stream.Socket

	journalQueue chan domain.OrderEvent
	journalDone  chan struct{}

	// groupOf maps leg order IDs to their group so the cache entry can be
	// dropped once every sibling leg is terminal.
	groupMu sync.Mutex
	groupOf map[int64]string

	// subscribed maps wire symbol -> streamer service, for restoring
	// market data after reconnects.
	subsMu     sync.Mutex
	subscribed map[string]string
}

// NewBrokerage creates the adapter. Call Connect before trading.
func NewBrokerage(opts Options) *Brokerage {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.OpenOrderLookback <= 0 {
		opts.OpenOrderLookback = 24 * time.Hour
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}

	b := &Brokerage{
		log:        log.With("component", "brokerage"),
		opts:       opts,
		codec:      symbols.NewCodec(log),
		groups:     orders.NewGroupCache(),
		quotes:     book.NewBook(),
		journal:    opts.Journal,
		events:     make(chan domain.OrderEvent, opts.EventBuffer),
		groupOf:    make(map[int64]string),
		subscribed: make(map[string]string),
	}
	if opts.Journal != nil {
		b.journalQueue = make(chan domain.OrderEvent, opts.EventBuffer)
		b.journalDone = make(chan struct{})
		go b.journalLoop()
	}
	b.tokens = NewTokenSource(opts.AuthURL, opts.AppKey, opts.AppSecret, opts.RefreshToken, log)
	b.api = NewClient(opts.BaseURL, opts.AccountNumber, b.tokens, log)
	b.tracker = orders.NewTracker(log, b.emit, opts.Orders)
	if opts.UpdateTimeout > 0 {
		b.tracker.SetUpdateTimeout(opts.UpdateTimeout)
	}
	return b
}

// Name returns "schwab".
func (b *Brokerage) Name() string { return "schwab" }

// Book exposes the level-one quote book.
func (b *Brokerage) Book() *book.Book { return b.quotes }

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// Connect resolves the account, fetches streamer endpoints, and opens the
// streaming session. Returns after the socket's first connection attempt
// succeeds; login and subscription setup complete asynchronously on the
// acknowledgment chain.
func (b *Brokerage) Connect(ctx context.Context) error {
	if err := b.api.ResolveAccountHash(ctx); err != nil {
		return err
	}
	info, err := b.api.GetStreamerInfo(ctx)
	if err != nil {
		return err
	}
	if info.CorrelID == "" {
		// Some accounts omit the correlation ID; the streamer accepts any
		// unique value.
		info.CorrelID = uuid.NewString()
	}

	b.dispatcher = stream.NewDispatcher(b.log, stream.LoginConfig{
		CustomerID: info.CustomerID,
		CorrelID:   info.CorrelID,
		Channel:    info.Channel,
		FunctionID: info.FunctionID,
	}, b.tokens.AccessToken, stream.Handlers{
		OnOrderActivity: b.onOrderActivity,
		OnQuote:         b.quotes.Apply,
		OnResubscribe:   b.restoreSubscriptions,
		OnStreamError:   b.onStreamError,
	})

	b.socket = stream.NewSocket(b.log, info.SocketURL, b.dispatcher.OnConnect, b.dispatcher.HandleMessage, b.onStreamError)
	b.dispatcher.SetSend(b.socket.Send)

	if err := b.socket.Start(ctx); err != nil {
		return fmt.Errorf("starting streamer: %w", err)
	}
	b.log.Info("brokerage connected", "account", b.opts.AccountNumber)
	return nil
}

// Close shuts the streaming session down and releases pending update waits.
func (b *Brokerage) Close() error {
	b.closeOnce.Do(func() {
		if b.socket != nil {
			b.socket.Stop()
		}
		b.tracker.Close()
		close(b.events)
		if b.journalQueue != nil {
			close(b.journalQueue)
			<-b.journalDone
		}
	})
	return nil
}

// Events returns the host-facing order event feed.
func (b *Brokerage) Events() <-chan domain.OrderEvent { return b.events }

// emit delivers one order event. Called with the tracker lock held, so the
// journal hand-off and the channel send must not block; journal I/O happens
// on the journalLoop goroutine.
func (b *Brokerage) emit(e domain.OrderEvent) {
	if b.journalQueue != nil {
		select {
		case b.journalQueue <- e:
		default:
			b.log.Warn("journal queue full, event not journaled", "orderID", e.OrderID)
		}
	}
	select {
	case b.events <- e:
	default:
		b.log.Warn("order event dropped, slow consumer", "orderID", e.OrderID, "kind", string(e.Kind))
	}
	if e.Kind == domain.EventStatusChanged && e.Status.IsTerminal() {
		b.releaseFinishedGroup(e.OrderID)
	}
}

// journalLoop drains queued events into the journal off the tracker's
// critical section.
func (b *Brokerage) journalLoop() {
	defer close(b.journalDone)
	for e := range b.journalQueue {
		if err := b.journal.RecordEvent(context.Background(), e); err != nil {
			b.log.Error("journaling order event", "orderID", e.OrderID, "error", err)
		}
	}
}

// releaseFinishedGroup drops a group's cache entry once every sibling leg
// reached a terminal status, so stale legs from finished transactions stop
// resolving for group-wide cancels.
func (b *Brokerage) releaseFinishedGroup(orderID int64) {
	b.groupMu.Lock()
	groupID, ok := b.groupOf[orderID]
	b.groupMu.Unlock()
	if !ok {
		return
	}

	members := b.groups.Members(groupID)
	for _, m := range members {
		if !m.Status.IsTerminal() {
			return
		}
	}

	b.groups.Release(groupID)
	b.groupMu.Lock()
	for _, m := range members {
		delete(b.groupOf, m.ID)
	}
	b.groupMu.Unlock()
	b.log.Debug("group finished, cache entry released", "groupID", groupID)
}

// ---------------------------------------------------------------------------
// Order operations
// ---------------------------------------------------------------------------

// PlaceOrder submits a logical order. Members of a multi-leg group are held
// in the group cache until the last declared leg arrives; the full combo is
// then submitted as one request.
func (b *Brokerage) PlaceOrder(ctx context.Context, o *domain.Order) error {
	legs, ready := b.groups.TryGetReadyGroup(o)
	if !ready {
		b.log.Debug("group leg cached, awaiting siblings",
			"orderID", o.ID, "groupID", o.Group.GroupID)
		return nil
	}
	if o.Group != nil {
		b.registerGroupLegs(o.Group.GroupID, legs)
	}

	err := b.tracker.Place(ctx, legs, func(ctx context.Context) (string, error) {
		req, err := BuildOrderRequest(legs, b.codec, b.opts.Holdings)
		if err != nil {
			return "", err
		}
		return b.api.PlaceOrder(ctx, req)
	})

	b.journalOrders(legs)
	return err
}

// UpdateOrder replaces a working single-leg order. Combo orders cannot be
// replaced at this brokerage; cancel and re-place instead.
func (b *Brokerage) UpdateOrder(ctx context.Context, o *domain.Order) error {
	if o.Group != nil {
		return fmt.Errorf("combo orders cannot be replaced: %w", domain.ErrUnsupportedOperation)
	}

	err := b.tracker.Update(ctx, o, func(ctx context.Context) (string, error) {
		req, err := BuildOrderRequest([]*domain.Order{o}, b.codec, b.opts.Holdings)
		if err != nil {
			return "", err
		}
		return b.api.UpdateOrder(ctx, o.ActiveBrokerID(), req)
	})

	b.journalOrders([]*domain.Order{o})
	return err
}

// CancelOrder requests cancellation. For group members the first leg's
// brokerage ID fronts the whole combo, so the cancel targets that leg.
func (b *Brokerage) CancelOrder(ctx context.Context, o *domain.Order) (bool, error) {
	target := o
	if o.Group != nil {
		if members := b.groups.Members(o.Group.GroupID); len(members) > 0 {
			target = members[0]
		}
	}
	return b.tracker.Cancel(ctx, target, b.api.CancelOrder)
}

// GetOpenOrders returns orders still working at the brokerage, converted to
// the canonical model and registered in the correlation table so stream
// events for them resolve.
func (b *Brokerage) GetOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	apiOrders, err := b.api.GetOpenOrders(ctx, b.opts.OpenOrderLookback)
	if err != nil {
		return nil, err
	}

	var out []*domain.Order
	for _, ao := range apiOrders {
		o, err := b.toDomainOrder(ao)
		if err != nil {
			b.log.Warn("skipping unconvertible open order", "brokerID", ao.OrderID, "error", err)
			continue
		}
		b.tracker.RegisterExisting(o)
		out = append(out, o)
	}
	return out, nil
}

// GetPositions returns the account's positions in canonical form.
func (b *Brokerage) GetPositions(ctx context.Context) ([]domain.Position, error) {
	account, err := b.api.GetAccount(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.Position
	for _, p := range account.Positions {
		qty := decimal.NewFromFloat(p.LongQuantity - p.ShortQuantity)
		if qty.IsZero() {
			continue
		}
		secType := assetToSecurityType(p.Instrument.AssetType)
		inst, err := b.codec.ToCanonicalID(p.Instrument.Symbol, secType, marketFor(secType), nil)
		if err != nil {
			b.log.Warn("skipping position with unconvertible symbol", "symbol", p.Instrument.Symbol, "error", err)
			continue
		}
		out = append(out, domain.Position{
			Instrument:   inst,
			Quantity:     qty,
			AveragePrice: decimal.NewFromFloat(p.AveragePrice),
			MarketValue:  decimal.NewFromFloat(p.MarketValue),
		})
	}
	return out, nil
}

// GetBalances returns the account's current balances.
func (b *Brokerage) GetBalances(ctx context.Context) (*domain.AccountBalances, error) {
	account, err := b.api.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.AccountBalances{
		Equity:      decimal.NewFromFloat(account.CurrentBalances.Equity),
		Cash:        decimal.NewFromFloat(account.CurrentBalances.CashBalance),
		BuyingPower: decimal.NewFromFloat(account.CurrentBalances.BuyingPower),
		AsOf:        time.Now(),
	}, nil
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Subscribe starts level-one data for the instruments and records them for
// restoration after reconnects.
func (b *Brokerage) Subscribe(ctx context.Context, instruments []domain.Instrument) error {
	byService := make(map[string][]string)
	b.subsMu.Lock()
	for _, inst := range instruments {
		symbol, err := b.codec.ToBrokerageSymbol(inst)
		if err != nil {
			b.subsMu.Unlock()
			return err
		}
		service := levelOneServiceFor(inst.Type)
		if b.subscribed[symbol] == "" {
			b.subscribed[symbol] = service
			byService[service] = append(byService[service], symbol)
		}
	}
	b.subsMu.Unlock()

	for service, syms := range byService {
		if err := b.dispatcher.SubscribeLevelOne(ctx, service, syms); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe stops tracking the instruments. The streamer keeps sending
// until the subscription set is re-sent, so this only updates local state
// and drops book entries.
func (b *Brokerage) Unsubscribe(_ context.Context, instruments []domain.Instrument) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, inst := range instruments {
		symbol, err := b.codec.ToBrokerageSymbol(inst)
		if err != nil {
			return err
		}
		delete(b.subscribed, symbol)
		b.quotes.Forget(symbol)
	}
	return nil
}

// GetQuote returns the latest level-one quote for the instrument, served
// from the streaming book when available and from the REST quote endpoint
// otherwise.
func (b *Brokerage) GetQuote(ctx context.Context, inst domain.Instrument) (domain.QuoteTick, error) {
	symbol, err := b.codec.ToBrokerageSymbol(inst)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	if q, ok := b.quotes.Quote(symbol); ok {
		return q, nil
	}

	snap, err := b.api.GetQuote(ctx, symbol)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	return domain.QuoteTick{
		Symbol:    symbol,
		BidPrice:  snap.BidPrice,
		BidSize:   snap.BidSize,
		AskPrice:  snap.AskPrice,
		AskSize:   snap.AskSize,
		LastPrice: snap.LastPrice,
		LastSize:  snap.LastSize,
		Time:      time.UnixMilli(snap.QuoteTime),
	}, nil
}

// restoreSubscriptions re-issues market-data subscriptions after the
// account-activity subscription of a fresh connection is acknowledged.
func (b *Brokerage) restoreSubscriptions() {
	b.subsMu.Lock()
	byService := make(map[string][]string)
	for symbol, service := range b.subscribed {
		byService[service] = append(byService[service], symbol)
	}
	b.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for service, syms := range byService {
		if err := b.dispatcher.SubscribeLevelOne(ctx, service, syms); err != nil {
			b.log.Error("restoring market data subscriptions", "service", service, "error", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Stream event routing
// ---------------------------------------------------------------------------

// onOrderActivity routes one account-activity event into the tracker.
func (b *Brokerage) onOrderActivity(act stream.OrderActivity) {
	switch act.EventType {
	case stream.ActivityOrderOut:
		outType := orders.OutClientCancel
		if act.CancelType == stream.OutCancelSystemReject {
			outType = orders.OutSystemReject
		}
		b.tracker.HandleOrderOut(act.BrokerOrderID, outType, act.Messages, act.Time)
	case stream.ActivityFill:
		b.tracker.HandleFill(act.BrokerOrderID, act.Time)
	case stream.ActivityPartialFill:
		b.tracker.HandlePartialFill(act.BrokerOrderID, act.Time)
	case stream.ActivityAccepted:
		b.tracker.HandleAccepted(act.BrokerOrderID, act.Time)
	default:
		b.log.Debug("ignoring account activity", "eventType", act.EventType, "brokerID", act.BrokerOrderID)
	}
}

// onStreamError surfaces a broker-wide failure as a message event.
func (b *Brokerage) onStreamError(err error) {
	b.emit(domain.OrderEvent{
		Kind:    domain.EventBrokerMessage,
		Message: err.Error(),
		Time:    time.Now(),
	})
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// toDomainOrder converts a reported working order into the canonical model.
func (b *Brokerage) toDomainOrder(ao APIOrder) (*domain.Order, error) {
	if len(ao.OrderLegCollection) == 0 {
		return nil, fmt.Errorf("order %d carries no legs", ao.OrderID)
	}
	leg := ao.OrderLegCollection[0]

	secType := assetToSecurityType(leg.Instrument.AssetType)
	inst, err := b.codec.ToCanonicalID(leg.Instrument.Symbol, secType, marketFor(secType), nil)
	if err != nil {
		return nil, err
	}

	qty := decimal.NewFromFloat(leg.Quantity)
	switch leg.Instruction {
	case InstructionSell, InstructionSellShort, InstructionSellToOpen, InstructionSellToClose:
		qty = qty.Neg()
	}

	o := &domain.Order{
		ID:         ao.OrderID,
		Instrument: inst,
		Quantity:   qty,
		Kind:       orderKindFor(ao.OrderType),
		Status:     domain.StatusSubmitted,
		BrokerIDs:  []string{strconv.FormatInt(ao.OrderID, 10)},
		CreatedAt:  ao.EnteredTime,
	}
	if ao.Price != "" {
		o.LimitPrice, _ = decimal.NewFromString(ao.Price)
	}
	if ao.StopPrice != "" {
		o.StopPrice, _ = decimal.NewFromString(ao.StopPrice)
	}
	if ao.FilledQuantity > 0 {
		o.Status = domain.StatusPartiallyFilled
	}
	return o, nil
}

// registerGroupLegs records which group each leg belongs to, for cache
// release once the whole group finishes.
func (b *Brokerage) registerGroupLegs(groupID string, legs []*domain.Order) {
	b.groupMu.Lock()
	for _, leg := range legs {
		b.groupOf[leg.ID] = groupID
	}
	b.groupMu.Unlock()
}

// journalOrders persists order rows best-effort.
func (b *Brokerage) journalOrders(legs []*domain.Order) {
	if b.journal == nil {
		return
	}
	for _, o := range legs {
		if err := b.journal.SaveOrder(context.Background(), o); err != nil {
			b.log.Error("journaling order", "orderID", o.ID, "error", err)
		}
	}
}

func assetToSecurityType(at AssetType) domain.SecurityType {
	switch at {
	case AssetOption:
		return domain.SecurityOption
	case AssetIndex:
		return domain.SecurityIndex
	case AssetFuture:
		return domain.SecurityFuture
	default:
		return domain.SecurityEquity
	}
}

func orderKindFor(ot OrderType) domain.OrderKind {
	switch ot {
	case OrderTypeLimit, OrderTypeNetDebit, OrderTypeNetCredit:
		return domain.OrderLimit
	case OrderTypeStop:
		return domain.OrderStop
	case OrderTypeStopLimit:
		return domain.OrderStopLimit
	case OrderTypeTrailingStop:
		return domain.OrderTrailingStop
	default:
		return domain.OrderMarket
	}
}

func marketFor(secType domain.SecurityType) domain.Market {
	switch secType {
	case domain.SecurityIndex, domain.SecurityIndexOption:
		return domain.MarketIndex
	case domain.SecurityFuture:
		return domain.MarketCME
	default:
		return domain.MarketUS
	}
}

func levelOneServiceFor(secType domain.SecurityType) string {
	switch secType {
	case domain.SecurityOption, domain.SecurityIndexOption:
		return stream.ServiceLevelOneOption
	case domain.SecurityFuture:
		return stream.ServiceLevelOneFuture
	default:
		return stream.ServiceLevelOneEquity
	}
}
