package symbols

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"schwabbridge/internal/domain"
)

func newTestCodec() *Codec { return NewCodec(nil) }

func TestEquityAndIndexEncoding(t *testing.T) {
	c := newTestCodec()

	got, err := c.ToBrokerageSymbol(domain.NewEquity("AAPL"))
	if err != nil || got != "AAPL" {
		t.Fatalf("equity symbol = %q, %v; want AAPL", got, err)
	}

	for ticker, want := range map[string]string{"SPX": "$SPX", "DJI": "$DJI"} {
		got, err := c.ToBrokerageSymbol(domain.NewIndex(ticker))
		if err != nil || got != want {
			t.Errorf("index %s = %q, %v; want %q", ticker, got, err, want)
		}
	}
}

func TestOptionEncodingFixedWidth(t *testing.T) {
	c := newTestCodec()
	expiry := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)

	got, err := c.ToBrokerageSymbol(domain.NewOption("F", expiry, decimal.RequireFromString("10.5"), domain.RightCall))
	if err != nil {
		t.Fatal(err)
	}
	want := "F     241220C00010500"
	if got != want {
		t.Fatalf("option symbol = %q, want %q", got, want)
	}
	if len(got) != optSymbolLen {
		t.Errorf("symbol length = %d, want %d", len(got), optSymbolLen)
	}
	if got[:6] != "F     " {
		t.Errorf("underlying columns = %q, want space-padded %q", got[:6], "F     ")
	}
	if got[6:12] != "241220" {
		t.Errorf("expiry columns = %q, want 241220", got[6:12])
	}
}

func TestStrikeEncodings(t *testing.T) {
	c := newTestCodec()
	expiry := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		strike string
		suffix string
	}{
		{"10.5", "00010500"},
		{"180", "00180000"},
		{"5925", "05925000"},
		{"0.125", "00000125"},
	}
	for _, tc := range cases {
		sym, err := c.ToBrokerageSymbol(domain.NewOption("AAPL", expiry, decimal.RequireFromString(tc.strike), domain.RightPut))
		if err != nil {
			t.Fatalf("strike %s: %v", tc.strike, err)
		}
		if got := sym[len(sym)-8:]; got != tc.suffix {
			t.Errorf("strike %s encoded as %q, want %q", tc.strike, got, tc.suffix)
		}
	}
}

func TestFutureEncoding(t *testing.T) {
	c := newTestCodec()

	dec := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	got, err := c.ToBrokerageSymbol(domain.NewFuture("ES", dec))
	if err != nil || got != "/ESZ24" {
		t.Fatalf("december future = %q, %v; want /ESZ24", got, err)
	}

	may := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	got, err = c.ToBrokerageSymbol(domain.NewFuture("ES", may))
	if err != nil || got != "/ESK24" {
		t.Fatalf("may future = %q, %v; want /ESK24", got, err)
	}
}

func TestOptionRoundTrip(t *testing.T) {
	c := newTestCodec()
	expiry := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)

	for _, strike := range []string{"10.5", "180", "5925", "33.333"} {
		orig := domain.NewOption("TSLA", expiry, decimal.RequireFromString(strike), domain.RightCall)
		wire, err := c.ToBrokerageSymbol(orig)
		if err != nil {
			t.Fatal(err)
		}
		back, err := c.ToCanonicalID(wire, domain.SecurityOption, domain.MarketUS, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !back.Equal(orig) {
			t.Errorf("round-trip for strike %s: got %+v, want %+v", strike, back, orig)
		}
	}
}

func TestOptionPositionalDecodeWithoutCache(t *testing.T) {
	c := newTestCodec()

	inst, err := c.ToCanonicalID("AAPL  241220P00180000", domain.SecurityOption, domain.MarketUS, nil)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Underlying != "AAPL" {
		t.Errorf("underlying = %q, want AAPL", inst.Underlying)
	}
	if !inst.Expiry.Equal(time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expiry = %v", inst.Expiry)
	}
	if inst.Right != domain.RightPut {
		t.Errorf("right = %q, want put", inst.Right)
	}
	if !inst.Strike.Equal(decimal.NewFromInt(180)) {
		t.Errorf("strike = %s, want 180", inst.Strike)
	}
}

func TestIndexOptionDecodeUsesSecurityType(t *testing.T) {
	c := newTestCodec()

	inst, err := c.ToCanonicalID("SPXW  241220C05925000", domain.SecurityIndexOption, domain.MarketIndex, nil)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Type != domain.SecurityIndexOption {
		t.Errorf("type = %q, want index option", inst.Type)
	}
	if inst.Style != domain.StyleEuropean {
		t.Errorf("style = %q, want european", inst.Style)
	}
}

func TestReverseMappingNeedsCacheForFuturesAndIndices(t *testing.T) {
	c := newTestCodec()

	if _, err := c.ToCanonicalID("/ESZ24", domain.SecurityFuture, domain.MarketCME, nil); !errors.Is(err, domain.ErrUnsupportedSecurityType) {
		t.Errorf("uncached future decode err = %v, want ErrUnsupportedSecurityType", err)
	}

	// After a forward mapping the same strings resolve exactly.
	fut := domain.NewFuture("ES", time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC))
	if _, err := c.ToBrokerageSymbol(fut); err != nil {
		t.Fatal(err)
	}
	back, err := c.ToCanonicalID("/ESZ24", domain.SecurityFuture, domain.MarketCME, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(fut) {
		t.Errorf("cached future decode = %+v, want %+v", back, fut)
	}
}

func TestCachedMappingIsStable(t *testing.T) {
	c := newTestCodec()
	expiry := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)

	orig := domain.NewIndexOption("SPX", expiry, decimal.NewFromInt(6000), domain.RightCall)
	wire, err := c.ToBrokerageSymbol(orig)
	if err != nil {
		t.Fatal(err)
	}

	// Asking for the same wire string as a plain option must return the
	// cached index option, not a re-parse.
	back, err := c.ToCanonicalID(wire, domain.SecurityOption, domain.MarketUS, nil)
	if err != nil {
		t.Fatal(err)
	}
	if back.Type != domain.SecurityIndexOption {
		t.Errorf("cached resolve returned %q, want the original index option", back.Type)
	}
}

func TestOversizedUnderlyingRejected(t *testing.T) {
	c := newTestCodec()
	expiry := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)

	_, err := c.ToBrokerageSymbol(domain.NewOption("TOOLONGX", expiry, decimal.NewFromInt(10), domain.RightCall))
	if !errors.Is(err, domain.ErrUnsupportedSecurityType) {
		t.Errorf("oversized underlying err = %v, want ErrUnsupportedSecurityType", err)
	}
}

func TestOptionFromHint(t *testing.T) {
	c := newTestCodec()
	expiry := time.Date(2025, 9, 19, 0, 0, 0, 0, time.UTC)

	hint := &ParseHint{Expiry: expiry, Strike: decimal.RequireFromString("42.5"), Right: domain.RightPut}
	inst, err := c.ToCanonicalID("XYZ", domain.SecurityOption, domain.MarketUS, hint)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Underlying != "XYZ" || !inst.Strike.Equal(decimal.RequireFromString("42.5")) {
		t.Errorf("hint-built option = %+v", inst)
	}
}
