package domain

import "time"

// EventKind tags the variants of OrderEvent.
type EventKind string

const (
	// EventStatusChanged reports a lifecycle transition for one order.
	EventStatusChanged EventKind = "status_changed"
	// EventIDChanged reports that a replace swapped the active brokerage ID.
	EventIDChanged EventKind = "id_changed"
	// EventBrokerMessage carries an order-unrelated brokerage warning or
	// error (e.g. a stream-level failure).
	EventBrokerMessage EventKind = "broker_message"
)

// OrderEvent is the tagged notification the adapter emits to the host. Which
// fields are meaningful depends on Kind:
//
//	EventStatusChanged: OrderID, Status, Message (reject reasons), Time
//	EventIDChanged:     OrderID, OldBrokerID, NewBrokerID, Time
//	EventBrokerMessage: Message, Time
type OrderEvent struct {
	Kind        EventKind
	OrderID     int64
	Status      OrderStatus
	OldBrokerID string
	NewBrokerID string
	Message     string
	Time        time.Time
}

// QuoteTick is a level-one market data update for one instrument.
type QuoteTick struct {
	Symbol    string // brokerage wire symbol
	BidPrice  float64
	BidSize   int64
	AskPrice  float64
	AskSize   int64
	LastPrice float64
	LastSize  int64
	Time      time.Time
}
