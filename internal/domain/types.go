// Package domain defines the canonical instrument, order, and account types
// shared across the schwabbridge adapter, plus the event and error model the
// host engine consumes.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Markets and security types
// ---------------------------------------------------------------------------

// Market identifies the venue an instrument trades on.
type Market string

const (
	MarketUS    Market = "us"
	MarketIndex Market = "index"
	MarketCME   Market = "cme"
)

// SecurityType identifies the asset class of an instrument.
type SecurityType string

const (
	SecurityEquity      SecurityType = "equity"
	SecurityIndex       SecurityType = "index"
	SecurityOption      SecurityType = "option"
	SecurityIndexOption SecurityType = "index_option"
	SecurityFuture      SecurityType = "future"
)

// OptionRight distinguishes calls from puts.
type OptionRight string

const (
	RightCall OptionRight = "call"
	RightPut  OptionRight = "put"
)

// OptionStyle is the exercise style of an option contract. It is not encoded
// in the brokerage wire symbol, which is why reverse symbol mapping needs it
// as a side parameter.
type OptionStyle string

const (
	StyleAmerican OptionStyle = "american"
	StyleEuropean OptionStyle = "european"
)

// ---------------------------------------------------------------------------
// Canonical instrument identifier
// ---------------------------------------------------------------------------

// Instrument is the host engine's canonical, unambiguous identifier for a
// tradable instrument. It is a tagged variant: which fields are meaningful
// depends on Type. Equity and Index use Ticker only; Option and IndexOption
// add Underlying, Expiry, Strike, Right, and Style; Future uses Ticker as the
// contract root plus Expiry.
type Instrument struct {
	Type       SecurityType
	Market     Market
	Ticker     string
	Underlying string
	Expiry     time.Time       // calendar date, no time component
	Strike     decimal.Decimal // at most 3 fractional digits
	Right      OptionRight
	Style      OptionStyle
}

// NewEquity returns the canonical identifier for an equity ticker.
func NewEquity(ticker string) Instrument {
	return Instrument{Type: SecurityEquity, Market: MarketUS, Ticker: ticker}
}

// NewIndex returns the canonical identifier for an index ticker.
func NewIndex(ticker string) Instrument {
	return Instrument{Type: SecurityIndex, Market: MarketIndex, Ticker: ticker}
}

// NewOption returns the canonical identifier for an equity option contract.
func NewOption(underlying string, expiry time.Time, strike decimal.Decimal, right OptionRight) Instrument {
	return Instrument{
		Type:       SecurityOption,
		Market:     MarketUS,
		Ticker:     underlying,
		Underlying: underlying,
		Expiry:     dateOnly(expiry),
		Strike:     strike,
		Right:      right,
		Style:      StyleAmerican,
	}
}

// NewIndexOption returns the canonical identifier for an index option
// contract. Index options are European-style.
func NewIndexOption(underlying string, expiry time.Time, strike decimal.Decimal, right OptionRight) Instrument {
	inst := NewOption(underlying, expiry, strike, right)
	inst.Type = SecurityIndexOption
	inst.Market = MarketIndex
	inst.Style = StyleEuropean
	return inst
}

// NewFuture returns the canonical identifier for a future contract. Ticker
// holds the contract root (e.g. "ES").
func NewFuture(root string, expiry time.Time) Instrument {
	return Instrument{Type: SecurityFuture, Market: MarketCME, Ticker: root, Expiry: dateOnly(expiry)}
}

// IsOption reports whether the instrument is an equity or index option.
func (i Instrument) IsOption() bool {
	return i.Type == SecurityOption || i.Type == SecurityIndexOption
}

// String renders a human-readable form for logs. It is NOT the brokerage
// wire symbol; see the symbols package for that.
func (i Instrument) String() string {
	switch i.Type {
	case SecurityOption, SecurityIndexOption:
		return fmt.Sprintf("%s %s %s %s", i.Underlying, i.Expiry.Format("2006-01-02"), i.Strike, i.Right)
	case SecurityFuture:
		return fmt.Sprintf("%s %s", i.Ticker, i.Expiry.Format("2006-01"))
	default:
		return i.Ticker
	}
}

// Equal reports whether two instruments identify the same contract.
func (i Instrument) Equal(o Instrument) bool {
	return i.Type == o.Type &&
		i.Ticker == o.Ticker &&
		i.Underlying == o.Underlying &&
		i.Expiry.Equal(o.Expiry) &&
		i.Strike.Equal(o.Strike) &&
		i.Right == o.Right &&
		i.Style == o.Style
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderKind is the runtime order type requested by the host engine.
type OrderKind string

const (
	OrderMarket       OrderKind = "market"
	OrderLimit        OrderKind = "limit"
	OrderStop         OrderKind = "stop"
	OrderStopLimit    OrderKind = "stop_limit"
	OrderTrailingStop OrderKind = "trailing_stop"
)

// OrderStatus is the host-visible lifecycle state of a logical order.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "submitted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusUpdateSubmitted OrderStatus = "update_submitted"
	StatusInvalid         OrderStatus = "invalid"
)

// IsTerminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusInvalid
}

// TimeInForce controls how long an order remains working.
type TimeInForce string

const (
	TIFDay             TimeInForce = "day"
	TIFGoodTilCancel   TimeInForce = "gtc"
	TIFGoodTilDate     TimeInForce = "gtd"
	TIFImmediateOrKill TimeInForce = "ioc"
)

// GroupOrderProperties carries the shared parameters of a multi-leg order.
// Every leg of the same economic transaction references the same GroupID and
// declares the same LegCount, Quantity, and LimitPrice.
type GroupOrderProperties struct {
	GroupID    string
	LegCount   int
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal // signed: >= 0 net debit, < 0 net credit
	HasLimit   bool
}

// Order is the host-side logical order record. Quantity is signed: negative
// means short/sell. BrokerIDs is ordered history: the last entry is the
// currently active brokerage identifier; earlier entries are IDs retired by
// replace operations.
type Order struct {
	ID            int64
	Instrument    Instrument
	Quantity      decimal.Decimal
	Kind          OrderKind
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	TrailAmount   decimal.Decimal
	TIF           TimeInForce
	ExtendedHours bool
	CancelAfter   time.Time // only meaningful for TIFGoodTilDate
	Status        OrderStatus
	BrokerIDs     []string
	Group         *GroupOrderProperties // nil for single-leg orders
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActiveBrokerID returns the currently addressable brokerage order ID, or ""
// if the order has not been assigned one yet.
func (o *Order) ActiveBrokerID() string {
	if len(o.BrokerIDs) == 0 {
		return ""
	}
	return o.BrokerIDs[len(o.BrokerIDs)-1]
}

// IsBuy reports whether the order increases the position (positive quantity).
func (o *Order) IsBuy() bool { return o.Quantity.Sign() > 0 }

// AbsQuantity returns the unsigned order size.
func (o *Order) AbsQuantity() decimal.Decimal { return o.Quantity.Abs() }

// ---------------------------------------------------------------------------
// Positions and accounts
// ---------------------------------------------------------------------------

// Position is a holding at the brokerage. Quantity is signed.
type Position struct {
	Instrument   Instrument
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	MarketValue  decimal.Decimal
}

// AccountBalances is a snapshot of account-level financial metrics.
type AccountBalances struct {
	Equity      decimal.Decimal
	Cash        decimal.Decimal
	BuyingPower decimal.Decimal
	AsOf        time.Time
}

// ---------------------------------------------------------------------------
// Host-supplied query interfaces
// ---------------------------------------------------------------------------

// SecurityProvider exposes the host engine's view of current holdings. The
// order request builder consults it to decide open-vs-close instructions.
type SecurityProvider interface {
	// HoldingsQuantity returns the signed quantity currently held for the
	// instrument, zero if flat.
	HoldingsQuantity(inst Instrument) decimal.Decimal
}

// OrderProvider lets the adapter resolve host orders it does not know about,
// e.g. orders placed before a reconnect. It is a read-only fallback behind
// the adapter's own correlation table.
type OrderProvider interface {
	// OrderByBrokerID returns the host order that owns the given brokerage
	// order ID, or false if none matches.
	OrderByBrokerID(brokerID string) (*Order, bool)
}
