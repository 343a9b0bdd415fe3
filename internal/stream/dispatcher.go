// Package stream implements the brokerage's streamer protocol: a single
// WebSocket carrying admin commands, subscription acknowledgments, account
// activity, and level-one market data as heterogeneous JSON envelopes. The
// dispatcher demultiplexes inbound messages into typed handlers; the socket
// keeps the connection alive across drops.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"schwabbridge/internal/domain"
)

// Streamer services and commands.
const (
	ServiceAdmin           = "ADMIN"
	ServiceAccountActivity = "ACCT_ACTIVITY"
	ServiceLevelOneEquity  = "LEVELONE_EQUITIES"
	ServiceLevelOneOption  = "LEVELONE_OPTIONS"
	ServiceLevelOneFuture  = "LEVELONE_FUTURES"

	CommandLogin  = "LOGIN"
	CommandLogout = "LOGOUT"
	CommandSubs   = "SUBS"
)

// Account-activity event types carried in field "2" of the content entries.
const (
	ActivityOrderOut    = "OrderUROutCompleted"
	ActivityFill        = "OrderFillCompleted"
	ActivityPartialFill = "OrderPartialFillCompleted"
	ActivityAccepted    = "OrderAcceptedCompleted"
	ActivitySubscribed  = "SUBSCRIBED"
)

// OutCancelSystemReject distinguishes a validation reject from a plain
// client-requested cancel inside an order-out activity.
const OutCancelSystemReject = "SYSTEM_REJECT_CANCEL"

// LoginConfig carries the identifiers the streamer login handshake needs,
// resolved from the user-preference endpoint.
type LoginConfig struct {
	CustomerID string
	CorrelID   string
	Channel    string
	FunctionID string
}

// OrderActivity is one parsed account-activity event.
type OrderActivity struct {
	BrokerOrderID string
	EventType     string
	CancelType    string   // order-out events only
	Messages      []string // validation rule descriptions on rejects
	Time          time.Time
}

// Handlers are the dispatcher's typed outputs. All callbacks are invoked
// from the socket read goroutine and must not block.
type Handlers struct {
	// OnOrderActivity receives each account-activity order event.
	OnOrderActivity func(OrderActivity)
	// OnQuote receives level-one market data updates.
	OnQuote func(domain.QuoteTick)
	// OnResubscribe fires after the account-activity subscription is
	// acknowledged, i.e. once per (re)connect when the session is usable.
	// Market-data subscriptions lost with the previous connection are
	// restored here.
	OnResubscribe func()
	// OnStreamError receives broker-wide failures (login rejects, error
	// acks) that the host should surface as brokerage messages.
	OnStreamError func(error)
}

// Dispatcher drives the streamer session state machine and demultiplexes
// inbound frames. Outbound frames go through the send function installed
// with SetSend.
type Dispatcher struct {
	log      *slog.Logger
	cfg      LoginConfig
	token    func(context.Context) (string, error)
	handlers Handlers
	send     func(context.Context, []byte) error

	requestID atomic.Int64
}

// NewDispatcher creates a dispatcher. token supplies a current access token
// for the login frame.
func NewDispatcher(log *slog.Logger, cfg LoginConfig, token func(context.Context) (string, error), handlers Handlers) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:      log.With("component", "stream"),
		cfg:      cfg,
		token:    token,
		handlers: handlers,
	}
}

// SetSend installs the outbound frame writer. Must be called before the
// socket delivers any message.
func (d *Dispatcher) SetSend(send func(context.Context, []byte) error) {
	d.send = send
}

// ---------------------------------------------------------------------------
// Outbound frames
// ---------------------------------------------------------------------------

type streamRequest struct {
	Requests []requestFrame `json:"requests"`
}

type requestFrame struct {
	Service    string            `json:"service"`
	Command    string            `json:"command"`
	RequestID  string            `json:"requestid"`
	CustomerID string            `json:"SchwabClientCustomerId"`
	CorrelID   string            `json:"SchwabClientCorrelId"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

func (d *Dispatcher) sendRequest(ctx context.Context, service, command string, params map[string]string) error {
	frame := streamRequest{Requests: []requestFrame{{
		Service:    service,
		Command:    command,
		RequestID:  strconv.FormatInt(d.requestID.Add(1), 10),
		CustomerID: d.cfg.CustomerID,
		CorrelID:   d.cfg.CorrelID,
		Parameters: params,
	}}}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding %s/%s frame: %w", service, command, err)
	}
	return d.send(ctx, data)
}

// OnConnect starts the session handshake on a fresh connection: login first,
// all subscription traffic waits for the acknowledgment chain.
func (d *Dispatcher) OnConnect(ctx context.Context) error {
	token, err := d.token(ctx)
	if err != nil {
		return fmt.Errorf("fetching token for streamer login: %w", err)
	}
	d.log.Info("streamer connected, logging in")
	return d.sendRequest(ctx, ServiceAdmin, CommandLogin, map[string]string{
		"Authorization":          token,
		"SchwabClientChannel":    d.cfg.Channel,
		"SchwabClientFunctionId": d.cfg.FunctionID,
	})
}

// SubscribeLevelOne requests level-one data for the given wire symbols on
// one of the LEVELONE services.
func (d *Dispatcher) SubscribeLevelOne(ctx context.Context, service string, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	return d.sendRequest(ctx, service, CommandSubs, map[string]string{
		"keys":   strings.Join(symbols, ","),
		"fields": "0,1,2,3,4,5,8,9",
	})
}

func (d *Dispatcher) subscribeAccountActivity(ctx context.Context) error {
	return d.sendRequest(ctx, ServiceAccountActivity, CommandSubs, map[string]string{
		"keys":   "Account Activity",
		"fields": "0,1,2,3",
	})
}

// ---------------------------------------------------------------------------
// Inbound frames
// ---------------------------------------------------------------------------

// envelope is the top-level inbound frame: exactly one of the three arrays
// is populated per message.
type envelope struct {
	Notify   []notifyFrame   `json:"notify"`
	Response []responseFrame `json:"response"`
	Data     []dataFrame     `json:"data"`
}

type notifyFrame struct {
	Heartbeat string `json:"heartbeat"`
}

type responseFrame struct {
	Service   string `json:"service"`
	Command   string `json:"command"`
	RequestID string `json:"requestid"`
	Content   struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"content"`
}

type dataFrame struct {
	Service   string          `json:"service"`
	Command   string          `json:"command"`
	Timestamp int64           `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

// HandleMessage demultiplexes one raw inbound frame. A frame matching none
// of the known shapes is an error: protocol drift must surface, not vanish.
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("undecodable streamer frame: %w", err)
	}

	switch {
	case len(env.Notify) > 0:
		d.log.Debug("streamer heartbeat", "value", env.Notify[0].Heartbeat)
		return nil
	case len(env.Response) > 0:
		for _, r := range env.Response {
			if err := d.handleResponse(ctx, r); err != nil {
				return err
			}
		}
		return nil
	case len(env.Data) > 0:
		for _, f := range env.Data {
			if err := d.handleData(f); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("streamer frame matches no known shape: %s", truncate(raw, 200))
	}
}

// handleResponse advances the session state machine on acknowledgments:
// login ack triggers the account-activity subscription, its ack triggers the
// resubscribe callback. Error codes on any service are escalated.
func (d *Dispatcher) handleResponse(ctx context.Context, r responseFrame) error {
	if r.Content.Code != 0 {
		err := fmt.Errorf("streamer %s/%s failed with code %d: %s", r.Service, r.Command, r.Content.Code, r.Content.Msg)
		if d.handlers.OnStreamError != nil {
			d.handlers.OnStreamError(err)
		}
		return err
	}

	switch {
	case r.Service == ServiceAdmin && r.Command == CommandLogin:
		d.log.Info("streamer login acknowledged")
		return d.subscribeAccountActivity(ctx)
	case r.Service == ServiceAccountActivity && r.Command == CommandSubs:
		d.log.Info("account activity subscription acknowledged")
		if d.handlers.OnResubscribe != nil {
			d.handlers.OnResubscribe()
		}
		return nil
	default:
		// Idle acknowledgment (market-data SUBS ack, logout ack).
		d.log.Debug("streamer ack", "service", r.Service, "command", r.Command)
		return nil
	}
}

func (d *Dispatcher) handleData(f dataFrame) error {
	switch f.Service {
	case ServiceAccountActivity:
		return d.handleAccountActivity(f)
	case ServiceLevelOneEquity, ServiceLevelOneOption, ServiceLevelOneFuture:
		return d.handleLevelOne(f)
	default:
		return fmt.Errorf("streamer data for unhandled service %q", f.Service)
	}
}

// ---------------------------------------------------------------------------
// Account activity
// ---------------------------------------------------------------------------

// activityEntry is one content element of an ACCT_ACTIVITY data frame:
// field 1 is the account, 2 the event type, 3 the event payload JSON.
type activityEntry struct {
	Seq       int    `json:"seq"`
	Key       string `json:"key"`
	Account   string `json:"1"`
	EventType string `json:"2"`
	Payload   string `json:"3"`
}

// activityPayload is the order event document inside field 3.
type activityPayload struct {
	SchwabOrderID string `json:"SchwabOrderID"`
	BaseEvent     struct {
		EventType string         `json:"EventType"`
		OrderOut  *urOutEvent    `json:"OrderUROutCompletedEvent"`
		Execution *executionInfo `json:"ExecutionCompletedEvent"`
	} `json:"BaseEvent"`
}

type urOutEvent struct {
	ExecutionTimeStamp timestampField `json:"ExecutionTimeStamp"`
	OutCancelType      string         `json:"OutCancelType"`
	ValidationDetail   []struct {
		RuleDescription string `json:"NgOMSRuleDescription"`
	} `json:"ValidationDetail"`
}

type executionInfo struct {
	ExecutionTimeStamp timestampField `json:"ExecutionTimeStamp"`
}

type timestampField struct {
	DateTimeString string `json:"DateTimeString"`
}

var activityTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
	"2006-01-02 15:04:05",
}

func (t timestampField) parse() time.Time {
	for _, layout := range activityTimeLayouts {
		if ts, err := time.Parse(layout, t.DateTimeString); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func (d *Dispatcher) handleAccountActivity(f dataFrame) error {
	var entries []activityEntry
	if err := json.Unmarshal(f.Content, &entries); err != nil {
		return fmt.Errorf("decoding account activity content: %w", err)
	}

	for _, e := range entries {
		if e.EventType == ActivitySubscribed || e.Payload == "" {
			continue
		}
		var payload activityPayload
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			return fmt.Errorf("decoding %s payload: %w", e.EventType, err)
		}

		act := OrderActivity{
			BrokerOrderID: payload.SchwabOrderID,
			EventType:     e.EventType,
		}
		if out := payload.BaseEvent.OrderOut; out != nil {
			act.CancelType = out.OutCancelType
			act.Time = out.ExecutionTimeStamp.parse()
			for _, v := range out.ValidationDetail {
				if v.RuleDescription != "" {
					act.Messages = append(act.Messages, v.RuleDescription)
				}
			}
		} else if exec := payload.BaseEvent.Execution; exec != nil {
			act.Time = exec.ExecutionTimeStamp.parse()
		}

		if d.handlers.OnOrderActivity != nil {
			d.handlers.OnOrderActivity(act)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Level-one market data
// ---------------------------------------------------------------------------

// levelOneEntry carries the numbered level-one fields this adapter
// subscribes to: 1 bid, 2 ask, 3 last, 4 bid size, 5 ask size, 9 last size.
type levelOneEntry struct {
	Key       string   `json:"key"`
	BidPrice  *float64 `json:"1"`
	AskPrice  *float64 `json:"2"`
	LastPrice *float64 `json:"3"`
	BidSize   *float64 `json:"4"`
	AskSize   *float64 `json:"5"`
	LastSize  *float64 `json:"9"`
}

func (d *Dispatcher) handleLevelOne(f dataFrame) error {
	var entries []levelOneEntry
	if err := json.Unmarshal(f.Content, &entries); err != nil {
		return fmt.Errorf("decoding %s content: %w", f.Service, err)
	}

	ts := time.UnixMilli(f.Timestamp)
	for _, e := range entries {
		tick := domain.QuoteTick{Symbol: e.Key, Time: ts}
		if e.BidPrice != nil {
			tick.BidPrice = *e.BidPrice
		}
		if e.AskPrice != nil {
			tick.AskPrice = *e.AskPrice
		}
		if e.LastPrice != nil {
			tick.LastPrice = *e.LastPrice
		}
		if e.BidSize != nil {
			tick.BidSize = int64(*e.BidSize)
		}
		if e.AskSize != nil {
			tick.AskSize = int64(*e.AskSize)
		}
		if e.LastSize != nil {
			tick.LastSize = int64(*e.LastSize)
		}
		if d.handlers.OnQuote != nil {
			d.handlers.OnQuote(tick)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
