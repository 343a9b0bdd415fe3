package schwab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"schwabbridge/internal/domain"
	"schwabbridge/internal/util"
)

// Client is the Schwab trader REST API client. It owns authentication
// headers, request rate limiting, and response decoding; it performs no
// order-state bookkeeping. Mutating calls (place/replace/cancel) are never
// retried here; idempotent reads retry with backoff.
type Client struct {
	baseURL       string
	accountNumber string
	accountHash   string
	tokens        *TokenSource
	httpClient    *http.Client
	limiter       *rate.Limiter
	log           *slog.Logger
}

// NewClient creates a trader API client for one account. Call
// ResolveAccountHash before any account-scoped method.
func NewClient(baseURL, accountNumber string, tokens *TokenSource, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		accountNumber: accountNumber,
		tokens:        tokens,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		// The trader API allows 120 requests per minute per account.
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		log:     log.With("component", "schwab-api"),
	}
}

// ---------------------------------------------------------------------------
// Account plumbing
// ---------------------------------------------------------------------------

// ResolveAccountHash exchanges the plain account number for the hashed
// account identifier every trading endpoint requires.
func (c *Client) ResolveAccountHash(ctx context.Context) error {
	var hashes []accountNumberHash
	err := util.Retry(ctx, 3, time.Second, func() error {
		return c.getJSON(ctx, "/trader/v1/accounts/accountNumbers", &hashes)
	})
	if err != nil {
		return fmt.Errorf("resolving account hash: %w", err)
	}
	for _, h := range hashes {
		if h.AccountNumber == c.accountNumber {
			c.accountHash = h.HashValue
			return nil
		}
	}
	return fmt.Errorf("account %s not found among %d accessible accounts: %w",
		c.accountNumber, len(hashes), domain.ErrNotFound)
}

// GetAccount returns the account's positions and balances.
func (c *Client) GetAccount(ctx context.Context) (*SecuritiesAccount, error) {
	var detail accountDetail
	err := util.Retry(ctx, 3, time.Second, func() error {
		return c.getJSON(ctx, "/trader/v1/accounts/"+c.accountHash+"?fields=positions", &detail)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	return &detail.SecuritiesAccount, nil
}

// GetOpenOrders returns orders entered within the lookback window that are
// still working at the brokerage.
func (c *Client) GetOpenOrders(ctx context.Context, lookback time.Duration) ([]APIOrder, error) {
	now := time.Now().UTC()
	q := url.Values{}
	q.Set("fromEnteredTime", now.Add(-lookback).Format(time.RFC3339))
	q.Set("toEnteredTime", now.Format(time.RFC3339))

	var all []APIOrder
	err := util.Retry(ctx, 3, time.Second, func() error {
		return c.getJSON(ctx, "/trader/v1/accounts/"+c.accountHash+"/orders?"+q.Encode(), &all)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}

	open := all[:0]
	for _, o := range all {
		switch o.Status {
		case "WORKING", "PENDING_ACTIVATION", "QUEUED", "ACCEPTED", "AWAITING_PARENT_ORDER":
			open = append(open, o)
		}
	}
	return open, nil
}

// GetStreamerInfo fetches the websocket endpoint and login identifiers from
// the user preference endpoint.
func (c *Client) GetStreamerInfo(ctx context.Context) (*StreamerInfo, error) {
	var prefs userPreference
	err := util.Retry(ctx, 3, time.Second, func() error {
		return c.getJSON(ctx, "/trader/v1/userPreference", &prefs)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching streamer info: %w", err)
	}
	if len(prefs.StreamerInfo) == 0 {
		return nil, fmt.Errorf("user preference carries no streamer info: %w", domain.ErrNotFound)
	}
	return &prefs.StreamerInfo[0], nil
}

// GetQuote fetches a REST quote snapshot for one wire symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*QuoteSnapshot, error) {
	q := url.Values{}
	q.Set("symbols", symbol)
	q.Set("fields", "quote")

	var out map[string]quoteEnvelope
	err := util.Retry(ctx, 3, time.Second, func() error {
		return c.getJSON(ctx, "/marketdata/v1/quotes?"+q.Encode(), &out)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching quote: %w", err)
	}
	env, ok := out[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote returned for %s: %w", symbol, domain.ErrNotFound)
	}
	return &env.Quote, nil
}

// ---------------------------------------------------------------------------
// Order mutation
// ---------------------------------------------------------------------------

// PlaceOrder submits an order and returns the brokerage-assigned order ID,
// parsed from the Location header of the 201 response.
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (string, error) {
	resp, body, err := c.send(ctx, http.MethodPost, "/trader/v1/accounts/"+c.accountHash+"/orders", req)
	if err != nil {
		return "", &domain.TransportError{Op: "PlaceOrder", Err: err}
	}
	if err := checkOrderResponse(resp, body); err != nil {
		return "", err
	}
	id, err := orderIDFromLocation(resp.Header.Get("Location"))
	if err != nil {
		return "", fmt.Errorf("place accepted but %w", err)
	}
	return id, nil
}

// UpdateOrder replaces an existing order. The brokerage cancels the old
// order and creates a new one; the returned ID is the NEW order's.
func (c *Client) UpdateOrder(ctx context.Context, oldID string, req *OrderRequest) (string, error) {
	resp, body, err := c.send(ctx, http.MethodPut, "/trader/v1/accounts/"+c.accountHash+"/orders/"+oldID, req)
	if err != nil {
		return "", &domain.TransportError{Op: "UpdateOrder", Err: err}
	}
	if err := checkOrderResponse(resp, body); err != nil {
		return "", err
	}
	id, err := orderIDFromLocation(resp.Header.Get("Location"))
	if err != nil {
		return "", fmt.Errorf("replace accepted but %w", err)
	}
	return id, nil
}

// CancelOrder requests cancellation of a working order. The returned bool
// reports whether the brokerage accepted the request; the cancel itself
// completes asynchronously on the stream.
func (c *Client) CancelOrder(ctx context.Context, id string) (bool, error) {
	resp, body, err := c.send(ctx, http.MethodDelete, "/trader/v1/accounts/"+c.accountHash+"/orders/"+id, nil)
	if err != nil {
		return false, &domain.TransportError{Op: "CancelOrder", Err: err}
	}
	if err := checkOrderResponse(resp, body); err != nil {
		return false, err
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func (c *Client) send(ctx context.Context, method, path string, payload any) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, err
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	return resp, body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, body, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

// checkOrderResponse classifies order-mutation responses: 2xx passes, 4xx
// with a parseable body becomes a ValidationError, anything else is a plain
// error.
func checkOrderResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Message != "" || len(apiErr.Errors) > 0) {
			msgs := apiErr.Errors
			if apiErr.Message != "" {
				msgs = append([]string{apiErr.Message}, msgs...)
			}
			return &domain.ValidationError{Messages: msgs}
		}
		return &domain.ValidationError{Messages: []string{strings.TrimSpace(string(body))}}
	}
	return fmt.Errorf("order request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// orderIDFromLocation extracts the trailing order ID from the Location
// header of a 201 Created.
func orderIDFromLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("response missing Location header")
	}
	idx := strings.LastIndex(location, "/")
	id := location[idx+1:]
	if id == "" {
		return "", fmt.Errorf("Location header %q carries no order ID", location)
	}
	return id, nil
}
