// Package schwab implements the Charles Schwab trader API surface used by
// the adapter: the OAuth token lifecycle, the REST trading client, the order
// request builder, and the Brokerage facade the host engine talks to.
package schwab

import "time"

// ---------------------------------------------------------------------------
// Order submission payload (POST/PUT /accounts/{hash}/orders)
// ---------------------------------------------------------------------------

// Session is the trading session an order participates in.
type Session string

const (
	SessionNormal   Session = "NORMAL"
	SessionAM       Session = "AM"
	SessionPM       Session = "PM"
	SessionSeamless Session = "SEAMLESS" // extended hours
)

// Duration is the brokerage time-in-force.
type Duration string

const (
	DurationDay            Duration = "DAY"
	DurationGoodTillCancel Duration = "GOOD_TILL_CANCEL"
	DurationFillOrKill     Duration = "FILL_OR_KILL"
	DurationEndOfWeek      Duration = "END_OF_WEEK"
)

// OrderType is the brokerage order type, including the combo net types used
// for multi-leg orders.
type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
	OrderTypeNetDebit     OrderType = "NET_DEBIT"
	OrderTypeNetCredit    OrderType = "NET_CREDIT"
)

// Instruction is the brokerage-side trade intent for one leg.
type Instruction string

const (
	InstructionBuy         Instruction = "BUY"
	InstructionSell        Instruction = "SELL"
	InstructionBuyToCover  Instruction = "BUY_TO_COVER"
	InstructionSellShort   Instruction = "SELL_SHORT"
	InstructionBuyToOpen   Instruction = "BUY_TO_OPEN"
	InstructionBuyToClose  Instruction = "BUY_TO_CLOSE"
	InstructionSellToOpen  Instruction = "SELL_TO_OPEN"
	InstructionSellToClose Instruction = "SELL_TO_CLOSE"
)

// AssetType is the brokerage's instrument classification.
type AssetType string

const (
	AssetEquity AssetType = "EQUITY"
	AssetOption AssetType = "OPTION"
	AssetIndex  AssetType = "INDEX"
	AssetFuture AssetType = "FUTURE"
)

// InstrumentRef identifies the instrument of one order leg.
type InstrumentRef struct {
	Symbol    string    `json:"symbol"`
	AssetType AssetType `json:"assetType"`
}

// OrderLeg is one constituent of an order submission.
type OrderLeg struct {
	Instruction Instruction   `json:"instruction"`
	Quantity    string        `json:"quantity"`
	Instrument  InstrumentRef `json:"instrument"`
}

// OrderRequest is the order submission payload. Price fields are decimal
// strings; empty fields are omitted from the JSON body.
type OrderRequest struct {
	Session                  Session    `json:"session"`
	Duration                 Duration   `json:"duration"`
	OrderType                OrderType  `json:"orderType"`
	CancelTime               string     `json:"cancelTime,omitempty"` // yyyy-MM-dd
	ComplexOrderStrategyType string     `json:"complexOrderStrategyType,omitempty"`
	Quantity                 string     `json:"quantity,omitempty"`
	Price                    string     `json:"price,omitempty"`
	StopPrice                string     `json:"stopPrice,omitempty"`
	StopPriceOffset          string     `json:"stopPriceOffset,omitempty"`
	OrderStrategyType        string     `json:"orderStrategyType"`
	OrderLegCollection       []OrderLeg `json:"orderLegCollection"`
}

// ---------------------------------------------------------------------------
// REST responses
// ---------------------------------------------------------------------------

// APIOrder is an order as reported by GET /accounts/{hash}/orders.
type APIOrder struct {
	OrderID            int64         `json:"orderId"`
	Status             string        `json:"status"`
	Session            Session       `json:"session"`
	Duration           Duration      `json:"duration"`
	OrderType          OrderType     `json:"orderType"`
	CancelTime         string        `json:"cancelTime,omitempty"`
	Price              string        `json:"price,omitempty"`
	StopPrice          string        `json:"stopPrice,omitempty"`
	Quantity           float64       `json:"quantity"`
	FilledQuantity     float64       `json:"filledQuantity"`
	EnteredTime        time.Time     `json:"enteredTime"`
	OrderLegCollection []APIOrderLeg `json:"orderLegCollection"`
}

// APIOrderLeg is one leg of a reported order.
type APIOrderLeg struct {
	Instruction Instruction `json:"instruction"`
	Quantity    float64     `json:"quantity"`
	Instrument  struct {
		Symbol     string    `json:"symbol"`
		AssetType  AssetType `json:"assetType"`
		PutCall    string    `json:"putCall,omitempty"`
		Underlying string    `json:"underlyingSymbol,omitempty"`
	} `json:"instrument"`
}

// SecuritiesAccount is the positions/balances section of the account detail
// response.
type SecuritiesAccount struct {
	AccountNumber string `json:"accountNumber"`
	Positions     []struct {
		LongQuantity  float64 `json:"longQuantity"`
		ShortQuantity float64 `json:"shortQuantity"`
		AveragePrice  float64 `json:"averagePrice"`
		MarketValue   float64 `json:"marketValue"`
		Instrument    struct {
			Symbol    string    `json:"symbol"`
			AssetType AssetType `json:"assetType"`
		} `json:"instrument"`
	} `json:"positions"`
	CurrentBalances struct {
		Equity      float64 `json:"equity"`
		CashBalance float64 `json:"cashBalance"`
		BuyingPower float64 `json:"buyingPower"`
	} `json:"currentBalances"`
}

type accountDetail struct {
	SecuritiesAccount SecuritiesAccount `json:"securitiesAccount"`
}

type accountNumberHash struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

// StreamerInfo carries the websocket endpoint and the identifiers the
// streamer login handshake requires. Fetched from GET /userPreference.
type StreamerInfo struct {
	SocketURL  string `json:"streamerSocketUrl"`
	CustomerID string `json:"schwabClientCustomerId"`
	CorrelID   string `json:"schwabClientCorrelId"`
	Channel    string `json:"schwabClientChannel"`
	FunctionID string `json:"schwabClientFunctionId"`
}

type userPreference struct {
	StreamerInfo []StreamerInfo `json:"streamerInfo"`
}

// QuoteSnapshot is the market data quote endpoint's per-symbol payload.
type QuoteSnapshot struct {
	BidPrice  float64 `json:"bidPrice"`
	BidSize   int64   `json:"bidSize"`
	AskPrice  float64 `json:"askPrice"`
	AskSize   int64   `json:"askSize"`
	LastPrice float64 `json:"lastPrice"`
	LastSize  int64   `json:"lastSize"`
	QuoteTime int64   `json:"quoteTime"` // Unix ms
}

type quoteEnvelope struct {
	Quote QuoteSnapshot `json:"quote"`
}

// tokenResponse is the OAuth token endpoint reply.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// apiError is the error body the trader API returns on 4xx.
type apiError struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}
