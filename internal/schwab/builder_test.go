package schwab

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"schwabbridge/internal/domain"
	"schwabbridge/internal/symbols"
)

// fakeHoldings maps instrument log-names to signed held quantities.
type fakeHoldings map[string]decimal.Decimal

func (f fakeHoldings) HoldingsQuantity(inst domain.Instrument) decimal.Decimal {
	return f[inst.String()]
}

func equityOrder(qty int64, kind domain.OrderKind) *domain.Order {
	return &domain.Order{
		ID:         1,
		Instrument: domain.NewEquity("AAPL"),
		Quantity:   decimal.NewFromInt(qty),
		Kind:       kind,
		TIF:        domain.TIFDay,
	}
}

func TestEquityInstructionTable(t *testing.T) {
	codec := symbols.NewCodec(nil)
	flat := fakeHoldings{}
	long := fakeHoldings{"AAPL": decimal.NewFromInt(100)}
	short := fakeHoldings{"AAPL": decimal.NewFromInt(-100)}

	cases := []struct {
		name     string
		qty      int64
		holdings fakeHoldings
		want     Instruction
	}{
		{"open long", 10, flat, InstructionBuy},
		{"close long", -10, long, InstructionSell},
		{"open short", -10, flat, InstructionSellShort},
		{"close short", 10, short, InstructionBuyToCover},
	}
	for _, tc := range cases {
		req, err := BuildOrderRequest([]*domain.Order{equityOrder(tc.qty, domain.OrderMarket)}, codec, tc.holdings)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := req.OrderLegCollection[0].Instruction; got != tc.want {
			t.Errorf("%s: instruction = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestOptionInstructionTable(t *testing.T) {
	codec := symbols.NewCodec(nil)
	expiry := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
	opt := domain.NewOption("AAPL", expiry, decimal.NewFromInt(180), domain.RightCall)

	flat := fakeHoldings{}
	long := fakeHoldings{opt.String(): decimal.NewFromInt(2)}
	short := fakeHoldings{opt.String(): decimal.NewFromInt(-2)}

	cases := []struct {
		name     string
		qty      int64
		holdings fakeHoldings
		want     Instruction
	}{
		{"buy to open", 1, flat, InstructionBuyToOpen},
		{"sell to close", -1, long, InstructionSellToClose},
		{"sell to open", -1, flat, InstructionSellToOpen},
		{"buy to close", 1, short, InstructionBuyToClose},
	}
	for _, tc := range cases {
		o := &domain.Order{ID: 2, Instrument: opt, Quantity: decimal.NewFromInt(tc.qty), Kind: domain.OrderMarket}
		req, err := BuildOrderRequest([]*domain.Order{o}, codec, tc.holdings)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := req.OrderLegCollection[0].Instruction; got != tc.want {
			t.Errorf("%s: instruction = %q, want %q", tc.name, got, tc.want)
		}
		if got := req.OrderLegCollection[0].Instrument.AssetType; got != AssetOption {
			t.Errorf("%s: asset type = %q, want OPTION", tc.name, got)
		}
	}
}

func TestZeroQuantityRejected(t *testing.T) {
	codec := symbols.NewCodec(nil)
	_, err := BuildOrderRequest([]*domain.Order{equityOrder(0, domain.OrderMarket)}, codec, fakeHoldings{})
	if !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Errorf("zero quantity err = %v, want ErrUnsupportedOperation", err)
	}
}

func TestSingleLegOrderTypes(t *testing.T) {
	codec := symbols.NewCodec(nil)
	flat := fakeHoldings{}

	limit := equityOrder(10, domain.OrderLimit)
	limit.LimitPrice = decimal.RequireFromString("189.95")
	req, err := BuildOrderRequest([]*domain.Order{limit}, codec, flat)
	if err != nil {
		t.Fatal(err)
	}
	if req.OrderType != OrderTypeLimit || req.Price != "189.95" {
		t.Errorf("limit order = %q price %q", req.OrderType, req.Price)
	}

	stop := equityOrder(-10, domain.OrderStop)
	stop.StopPrice = decimal.RequireFromString("170")
	req, err = BuildOrderRequest([]*domain.Order{stop}, codec, fakeHoldings{"AAPL": decimal.NewFromInt(10)})
	if err != nil {
		t.Fatal(err)
	}
	if req.OrderType != OrderTypeStop || req.StopPrice != "170" {
		t.Errorf("stop order = %q stopPrice %q", req.OrderType, req.StopPrice)
	}

	trail := equityOrder(-10, domain.OrderTrailingStop)
	trail.TrailAmount = decimal.RequireFromString("1.5")
	req, err = BuildOrderRequest([]*domain.Order{trail}, codec, fakeHoldings{"AAPL": decimal.NewFromInt(10)})
	if err != nil {
		t.Fatal(err)
	}
	if req.OrderType != OrderTypeTrailingStop || req.StopPriceOffset != "1.5" {
		t.Errorf("trailing stop = %q offset %q", req.OrderType, req.StopPriceOffset)
	}

	bad := equityOrder(10, domain.OrderKind("iceberg"))
	if _, err := BuildOrderRequest([]*domain.Order{bad}, codec, flat); !errors.Is(err, domain.ErrUnsupportedOrderType) {
		t.Errorf("unknown kind err = %v, want ErrUnsupportedOrderType", err)
	}
}

func comboLegs(kind domain.OrderKind, group *domain.GroupOrderProperties) []*domain.Order {
	expiry := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
	buy := &domain.Order{
		ID:         10,
		Instrument: domain.NewOption("SPY", expiry, decimal.NewFromInt(470), domain.RightCall),
		Quantity:   decimal.NewFromInt(1),
		Kind:       kind,
		Group:      group,
	}
	sell := &domain.Order{
		ID:         11,
		Instrument: domain.NewOption("SPY", expiry, decimal.NewFromInt(480), domain.RightCall),
		Quantity:   decimal.NewFromInt(-1),
		Kind:       kind,
		Group:      group,
	}
	return []*domain.Order{buy, sell}
}

func TestComboMarketOrder(t *testing.T) {
	codec := symbols.NewCodec(nil)
	group := &domain.GroupOrderProperties{GroupID: "g1", LegCount: 2, Quantity: decimal.NewFromInt(1)}

	req, err := BuildOrderRequest(comboLegs(domain.OrderMarket, group), codec, fakeHoldings{})
	if err != nil {
		t.Fatal(err)
	}
	if req.OrderType != OrderTypeMarket {
		t.Errorf("all-market combo type = %q, want MARKET", req.OrderType)
	}
	if req.ComplexOrderStrategyType != "CUSTOM" {
		t.Errorf("complex strategy = %q, want CUSTOM", req.ComplexOrderStrategyType)
	}
	if len(req.OrderLegCollection) != 2 {
		t.Fatalf("legs = %d, want 2", len(req.OrderLegCollection))
	}
	// Leg order must match host declaration order.
	if req.OrderLegCollection[0].Instruction != InstructionBuyToOpen ||
		req.OrderLegCollection[1].Instruction != InstructionSellToOpen {
		t.Errorf("leg instructions = %q,%q; want BUY_TO_OPEN,SELL_TO_OPEN",
			req.OrderLegCollection[0].Instruction, req.OrderLegCollection[1].Instruction)
	}
}

func TestComboNetDebitAndCredit(t *testing.T) {
	codec := symbols.NewCodec(nil)

	debit := &domain.GroupOrderProperties{
		GroupID: "g2", LegCount: 2,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimal.RequireFromString("2.5"),
		HasLimit:   true,
	}
	req, err := BuildOrderRequest(comboLegs(domain.OrderLimit, debit), codec, fakeHoldings{})
	if err != nil {
		t.Fatal(err)
	}
	if req.OrderType != OrderTypeNetDebit || req.Price != "2.5" {
		t.Errorf("positive group limit = %q price %q, want NET_DEBIT 2.5", req.OrderType, req.Price)
	}

	credit := &domain.GroupOrderProperties{
		GroupID: "g3", LegCount: 2,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimal.RequireFromString("-2.5"),
		HasLimit:   true,
	}
	req, err = BuildOrderRequest(comboLegs(domain.OrderLimit, credit), codec, fakeHoldings{})
	if err != nil {
		t.Fatal(err)
	}
	if req.OrderType != OrderTypeNetCredit || req.Price != "2.5" {
		t.Errorf("negative group limit = %q price %q, want NET_CREDIT 2.5", req.OrderType, req.Price)
	}
}

func TestSessionAndDuration(t *testing.T) {
	codec := symbols.NewCodec(nil)

	o := equityOrder(10, domain.OrderMarket)
	o.ExtendedHours = true
	o.TIF = domain.TIFGoodTilDate
	o.CancelAfter = time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)

	req, err := BuildOrderRequest([]*domain.Order{o}, codec, fakeHoldings{})
	if err != nil {
		t.Fatal(err)
	}
	if req.Session != SessionSeamless {
		t.Errorf("session = %q, want SEAMLESS", req.Session)
	}
	if req.Duration != DurationGoodTillCancel || req.CancelTime != "2025-02-28" {
		t.Errorf("duration = %q cancelTime %q", req.Duration, req.CancelTime)
	}
}
