package schwab

import (
	"fmt"

	"schwabbridge/internal/domain"
	"schwabbridge/internal/symbols"
)

// position classifies a leg relative to current holdings: whether it opens
// or closes, and on which side.
type position int

const (
	positionUnknown position = iota
	openLong
	closeLong
	openShort
	closeShort
)

// BuildOrderRequest assembles the brokerage submission payload for one
// logical order or one complete multi-leg group. The orders slice must be
// non-empty and, for groups, in host leg-declaration order: the brokerage
// correlates legs by position only, so leg order is wire-significant.
func BuildOrderRequest(orders []*domain.Order, codec *symbols.Codec, holdings domain.SecurityProvider) (*OrderRequest, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("no orders to build: %w", domain.ErrUnsupportedOperation)
	}

	legs := make([]OrderLeg, 0, len(orders))
	for _, o := range orders {
		leg, err := buildLeg(o, codec, holdings)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}

	req := &OrderRequest{
		OrderStrategyType:  "SINGLE",
		OrderLegCollection: legs,
	}
	applySessionDuration(req, orders[0])

	if len(orders) == 1 {
		if err := applySingleLegType(req, orders[0]); err != nil {
			return nil, err
		}
		return req, nil
	}
	if err := applyComboType(req, orders); err != nil {
		return nil, err
	}
	return req, nil
}

func buildLeg(o *domain.Order, codec *symbols.Codec, holdings domain.SecurityProvider) (OrderLeg, error) {
	symbol, err := codec.ToBrokerageSymbol(o.Instrument)
	if err != nil {
		return OrderLeg{}, err
	}

	pos, err := classify(o, holdings)
	if err != nil {
		return OrderLeg{}, err
	}
	instruction, err := instructionFor(o.Instrument.Type, pos)
	if err != nil {
		return OrderLeg{}, err
	}

	return OrderLeg{
		Instruction: instruction,
		Quantity:    o.AbsQuantity().String(),
		Instrument: InstrumentRef{
			Symbol:    symbol,
			AssetType: assetTypeFor(o.Instrument.Type),
		},
	}, nil
}

// classify derives the leg position from the order direction combined with
// the sign of current holdings.
func classify(o *domain.Order, holdings domain.SecurityProvider) (position, error) {
	held := holdings.HoldingsQuantity(o.Instrument)
	switch {
	case o.Quantity.Sign() > 0 && held.Sign() < 0:
		return closeShort, nil
	case o.Quantity.Sign() > 0:
		return openLong, nil
	case o.Quantity.Sign() < 0 && held.Sign() > 0:
		return closeLong, nil
	case o.Quantity.Sign() < 0:
		return openShort, nil
	default:
		return positionUnknown, fmt.Errorf("order %d has zero quantity: %w", o.ID, domain.ErrUnsupportedOperation)
	}
}

// instructionFor is the (security type, position) decision table. An
// unmapped combination is an error on purpose: silently defaulting an
// instruction would submit a wrong trade.
func instructionFor(secType domain.SecurityType, pos position) (Instruction, error) {
	if secType == domain.SecurityOption || secType == domain.SecurityIndexOption {
		switch pos {
		case openLong:
			return InstructionBuyToOpen, nil
		case closeShort:
			return InstructionBuyToClose, nil
		case openShort:
			return InstructionSellToOpen, nil
		case closeLong:
			return InstructionSellToClose, nil
		}
	} else {
		switch pos {
		case openLong:
			return InstructionBuy, nil
		case closeLong:
			return InstructionSell, nil
		case openShort:
			return InstructionSellShort, nil
		case closeShort:
			return InstructionBuyToCover, nil
		}
	}
	return "", fmt.Errorf("no instruction for %s/%d: %w", secType, pos, domain.ErrUnsupportedOperation)
}

// applySingleLegType sets the order type and prices for a one-leg order
// from the logical order's runtime kind.
func applySingleLegType(req *OrderRequest, o *domain.Order) error {
	switch o.Kind {
	case domain.OrderMarket:
		req.OrderType = OrderTypeMarket
	case domain.OrderLimit:
		req.OrderType = OrderTypeLimit
		req.Price = o.LimitPrice.String()
	case domain.OrderStop:
		req.OrderType = OrderTypeStop
		req.StopPrice = o.StopPrice.String()
	case domain.OrderStopLimit:
		req.OrderType = OrderTypeStopLimit
		req.Price = o.LimitPrice.String()
		req.StopPrice = o.StopPrice.String()
	case domain.OrderTrailingStop:
		req.OrderType = OrderTypeTrailingStop
		req.StopPriceOffset = o.TrailAmount.String()
	default:
		return fmt.Errorf("order kind %q: %w", o.Kind, domain.ErrUnsupportedOrderType)
	}
	return nil
}

// applyComboType sets the multi-leg order type: market combos when every
// leg is a market order, otherwise a net-debit or net-credit combo keyed by
// the sign of the shared group limit price.
func applyComboType(req *OrderRequest, orders []*domain.Order) error {
	group := orders[0].Group
	if group == nil {
		return fmt.Errorf("multi-leg request without group properties: %w", domain.ErrUnsupportedOperation)
	}
	req.ComplexOrderStrategyType = "CUSTOM"
	req.Quantity = group.Quantity.Abs().String()

	allMarket := true
	for _, o := range orders {
		if o.Kind != domain.OrderMarket {
			allMarket = false
			break
		}
	}

	switch {
	case allMarket && !group.HasLimit:
		req.OrderType = OrderTypeMarket
	case group.HasLimit && group.LimitPrice.Sign() >= 0:
		req.OrderType = OrderTypeNetDebit
		req.Price = group.LimitPrice.Abs().String()
	case group.HasLimit:
		req.OrderType = OrderTypeNetCredit
		req.Price = group.LimitPrice.Abs().String()
	default:
		return fmt.Errorf("mixed-kind group without a limit price: %w", domain.ErrUnsupportedOrderType)
	}
	return nil
}

// applySessionDuration derives session and time-in-force from the order's
// properties. Groups share these, so deriving from the first leg attaches
// them uniformly.
func applySessionDuration(req *OrderRequest, o *domain.Order) {
	req.Session = SessionNormal
	if o.ExtendedHours {
		req.Session = SessionSeamless
	}

	switch o.TIF {
	case domain.TIFGoodTilCancel:
		req.Duration = DurationGoodTillCancel
	case domain.TIFGoodTilDate:
		req.Duration = DurationGoodTillCancel
		if !o.CancelAfter.IsZero() {
			req.CancelTime = o.CancelAfter.Format("2006-01-02")
		}
	case domain.TIFImmediateOrKill:
		req.Duration = DurationFillOrKill
	default:
		req.Duration = DurationDay
	}
}

func assetTypeFor(secType domain.SecurityType) AssetType {
	switch secType {
	case domain.SecurityIndex:
		return AssetIndex
	case domain.SecurityOption, domain.SecurityIndexOption:
		return AssetOption
	case domain.SecurityFuture:
		return AssetFuture
	default:
		return AssetEquity
	}
}
