// Package symbols converts between canonical instrument identifiers and the
// brokerage's wire symbol conventions: plain tickers for equities, "$"-prefixed
// indices, fixed-width OSI-style option strings, and "/"-prefixed futures.
package symbols

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"schwabbridge/internal/domain"
)

// Option wire format columns. The format is positional, not delimited, so
// the offsets below are load-bearing.
const (
	optUnderlyingWidth = 6  // left-justified, space-padded
	optExpiryWidth     = 6  // YYMMDD
	optRightWidth      = 1  // C or P
	optStrikeWidth     = 8  // 5-digit whole part + 3-digit fraction, no point
	optSymbolLen       = optUnderlyingWidth + optExpiryWidth + optRightWidth + optStrikeWidth
)

// futureMonthCodes maps calendar months 1-12 to the futures month letters.
var futureMonthCodes = [13]byte{0, 'F', 'G', 'H', 'J', 'K', 'M', 'N', 'Q', 'U', 'V', 'X', 'Z'}

// ParseHint supplies contract details the wire string alone cannot encode.
// Used when resolving an option from a bare underlying ticker, e.g. symbols
// reported by holdings endpoints that skip the OSI form.
type ParseHint struct {
	Expiry time.Time
	Strike decimal.Decimal
	Right  domain.OptionRight
}

// Codec performs bidirectional symbol translation with an instance-owned
// memoization table. A symbol encoded once resolves back to the exact same
// canonical identifier for the codec's lifetime, which sidesteps the
// ambiguity of the reverse direction (style and index-ness are not on the
// wire).
type Codec struct {
	log *slog.Logger

	mu    sync.RWMutex
	cache map[string]domain.Instrument // wire symbol -> canonical id

	warned sync.Map // one-shot log guard per security type
}

// NewCodec creates a codec with an empty cache.
func NewCodec(log *slog.Logger) *Codec {
	if log == nil {
		log = slog.Default()
	}
	return &Codec{
		log:   log.With("component", "symbols"),
		cache: make(map[string]domain.Instrument),
	}
}

// ---------------------------------------------------------------------------
// Canonical -> brokerage
// ---------------------------------------------------------------------------

// ToBrokerageSymbol encodes the canonical identifier as a brokerage wire
// symbol and memoizes the mapping keyed by the resulting string. It fails
// only for unsupported security types or tickers that cannot fit the fixed
// option columns.
func (c *Codec) ToBrokerageSymbol(inst domain.Instrument) (string, error) {
	var wire string
	switch inst.Type {
	case domain.SecurityEquity:
		wire = inst.Ticker

	case domain.SecurityIndex:
		wire = "$" + inst.Ticker

	case domain.SecurityOption, domain.SecurityIndexOption:
		underlying := inst.Underlying
		if inst.Type == domain.SecurityIndexOption {
			underlying = strings.TrimPrefix(underlying, "$")
		}
		if len(underlying) > optUnderlyingWidth {
			return "", fmt.Errorf("option underlying %q exceeds %d characters: %w",
				underlying, optUnderlyingWidth, domain.ErrUnsupportedSecurityType)
		}
		strike, err := encodeStrike(inst.Strike)
		if err != nil {
			return "", err
		}
		wire = fmt.Sprintf("%-*s%s%c%s",
			optUnderlyingWidth, underlying,
			inst.Expiry.Format("060102"),
			rightCode(inst.Right),
			strike)

	case domain.SecurityFuture:
		month := int(inst.Expiry.Month())
		wire = fmt.Sprintf("/%s%c%s", inst.Ticker, futureMonthCodes[month], inst.Expiry.Format("06"))

	default:
		c.warnOnce(inst.Type)
		return "", fmt.Errorf("cannot encode %q: %w", inst.Type, domain.ErrUnsupportedSecurityType)
	}

	c.mu.Lock()
	if _, ok := c.cache[wire]; !ok {
		c.cache[wire] = inst
	}
	c.mu.Unlock()
	return wire, nil
}

// ---------------------------------------------------------------------------
// Brokerage -> canonical
// ---------------------------------------------------------------------------

// ToCanonicalID resolves a brokerage wire symbol back to its canonical
// identifier. A cached forward mapping wins outright. On a cache miss,
// equities resolve by identity and option symbols decode positionally; the
// security type parameter disambiguates equity vs index options since the
// wire form does not. Futures and indices cannot be reconstructed without a
// prior forward mapping.
func (c *Codec) ToCanonicalID(wire string, secType domain.SecurityType, market domain.Market, hint *ParseHint) (domain.Instrument, error) {
	c.mu.RLock()
	cached, ok := c.cache[wire]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var inst domain.Instrument
	switch secType {
	case domain.SecurityEquity:
		inst = domain.NewEquity(wire)

	case domain.SecurityOption, domain.SecurityIndexOption:
		var err error
		inst, err = c.parseOption(wire, secType, hint)
		if err != nil {
			return domain.Instrument{}, err
		}

	default:
		c.warnOnce(secType)
		return domain.Instrument{}, fmt.Errorf("cannot decode %q as %q without a cached mapping: %w",
			wire, secType, domain.ErrUnsupportedSecurityType)
	}
	if market != "" {
		inst.Market = market
	}

	// First resolution wins so the same wire string always maps to the same
	// canonical identifier afterwards.
	c.mu.Lock()
	if prior, ok := c.cache[wire]; ok {
		inst = prior
	} else {
		c.cache[wire] = inst
	}
	c.mu.Unlock()
	return inst, nil
}

func (c *Codec) parseOption(wire string, secType domain.SecurityType, hint *ParseHint) (domain.Instrument, error) {
	if len(wire) != optSymbolLen {
		// Not an OSI string. Holdings payloads sometimes report just the
		// underlying plus contract details; reconstruct from the hint.
		if hint != nil {
			return c.optionFromHint(wire, secType, hint), nil
		}
		return domain.Instrument{}, fmt.Errorf("option symbol %q is not %d characters: %w",
			wire, optSymbolLen, domain.ErrUnsupportedSecurityType)
	}

	underlying := strings.TrimRight(wire[:optUnderlyingWidth], " ")
	expiry, err := time.Parse("060102", wire[optUnderlyingWidth:optUnderlyingWidth+optExpiryWidth])
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("option symbol %q has invalid expiry: %w", wire, err)
	}

	var right domain.OptionRight
	switch wire[optUnderlyingWidth+optExpiryWidth] {
	case 'C':
		right = domain.RightCall
	case 'P':
		right = domain.RightPut
	default:
		return domain.Instrument{}, fmt.Errorf("option symbol %q has invalid right code %q",
			wire, wire[optUnderlyingWidth+optExpiryWidth])
	}

	raw := wire[optUnderlyingWidth+optExpiryWidth+optRightWidth:]
	milli, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("option symbol %q has invalid strike %q: %w", wire, raw, err)
	}
	strike := decimal.New(milli, -3)

	if secType == domain.SecurityIndexOption {
		return domain.NewIndexOption(underlying, expiry, strike, right), nil
	}
	return domain.NewOption(underlying, expiry, strike, right), nil
}

func (c *Codec) optionFromHint(underlying string, secType domain.SecurityType, hint *ParseHint) domain.Instrument {
	if secType == domain.SecurityIndexOption {
		return domain.NewIndexOption(underlying, hint.Expiry, hint.Strike, hint.Right)
	}
	return domain.NewOption(underlying, hint.Expiry, hint.Strike, hint.Right)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// encodeStrike renders a strike price as an 8-digit fixed-point string with
// three implied decimal places: 10.5 -> "00010500".
func encodeStrike(strike decimal.Decimal) (string, error) {
	milli := strike.Round(3).Mul(decimal.NewFromInt(1000)).IntPart()
	if milli < 0 || milli > 99999999 {
		return "", fmt.Errorf("strike %s does not fit %d digits: %w",
			strike, optStrikeWidth, domain.ErrUnsupportedSecurityType)
	}
	return fmt.Sprintf("%0*d", optStrikeWidth, milli), nil
}

func rightCode(r domain.OptionRight) byte {
	if r == domain.RightPut {
		return 'P'
	}
	return 'C'
}

// warnOnce logs an unsupported-type warning at most once per security type
// to keep a hot misconfigured path from flooding the log.
func (c *Codec) warnOnce(secType domain.SecurityType) {
	if _, loaded := c.warned.LoadOrStore(secType, struct{}{}); !loaded {
		c.log.Warn("unsupported security type", "securityType", string(secType))
	}
}
